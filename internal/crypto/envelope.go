package crypto

// Envelope is the encrypted-at-rest form of an event's private content:
// two sealed blobs plus the wrapped session key that opens both. The same
// shape is stored in sqlite and carried on the sync wire.
type Envelope struct {
	SessionKey []byte `json:"sessionKey"`
	Content    []byte `json:"content"`
	Prefs      []byte `json:"prefs"`
}

// Seal encrypts content and preference plaintexts under a fresh session key
// wrapped for this keyring.
func (k *Keyring) Seal(content, prefs []byte) (*Envelope, error) {
	sessionKey, err := NewSessionKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := k.EncryptSessionKey(sessionKey)
	if err != nil {
		return nil, err
	}
	sealedContent, err := EncryptContent(content, sessionKey)
	if err != nil {
		return nil, err
	}
	sealedPrefs, err := EncryptContent(prefs, sessionKey)
	if err != nil {
		return nil, err
	}
	return &Envelope{SessionKey: wrapped, Content: sealedContent, Prefs: sealedPrefs}, nil
}

// Open decrypts an envelope back into content and preference plaintexts.
func (k *Keyring) Open(env *Envelope) (content, prefs []byte, err error) {
	sessionKey, err := k.DecryptSessionKey(env.SessionKey)
	if err != nil {
		return nil, nil, err
	}
	content, err = DecryptContent(env.Content, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	prefs, err = DecryptContent(env.Prefs, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	return content, prefs, nil
}
