package domain

// CalendarMetadata is the single-row record describing the local calendar:
// its identity, key material and the sync checkpoint.
type CalendarMetadata struct {
	CalendarID string
	// PublicKey is the calendar's recipient key for session-key wrapping.
	PublicKey []byte
	// EncryptedPrivateKey is the private half, sealed with a user secret.
	EncryptedPrivateKey []byte
	// LastUpdated is the sync checkpoint; nil means never synced.
	LastUpdated *int64
	// MailCooldownUntil is a server-supplied rate-limit deadline (epoch
	// millis) that must survive restarts.
	MailCooldownUntil int64
}
