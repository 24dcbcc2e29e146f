package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
)

// draftContent is the sealed portion of a draft row.
type draftContent struct {
	Title       string            `json:"title"`
	Location    string            `json:"location"`
	Description string            `json:"description"`
	IsAllDay    bool              `json:"isAllDay"`
	Conference  string            `json:"conference"`
	Attendees   []domain.Attendee `json:"attendees"`
}

type draftPrefs struct {
	Color string `json:"color"`
}

func marshalRule(r *domain.RecurrenceRule) (*string, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal recurrence rule: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func unmarshalRule(raw *string) (*domain.RecurrenceRule, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var r domain.RecurrenceRule
	if err := json.Unmarshal([]byte(*raw), &r); err != nil {
		return nil, fmt.Errorf("unmarshal recurrence rule: %w", err)
	}
	return &r, nil
}

func marshalUpdateTypes(s domain.UpdateTypeSet) (string, error) {
	list := make([]string, 0, len(s))
	for t := range s {
		list = append(list, string(t))
	}
	sort.Strings(list)
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshal update types: %w", err)
	}
	return string(raw), nil
}

func unmarshalUpdateTypes(raw string) (domain.UpdateTypeSet, error) {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("unmarshal update types: %w", err)
	}
	var out domain.UpdateTypeSet
	for _, t := range list {
		out = out.Add(domain.EventUpdateType(t))
	}
	return out, nil
}

// sealEventContent seals the private groups of an event into an envelope.
func sealEventContent(keys *crypto.Keyring, e *domain.Event) (*crypto.Envelope, error) {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	prefs, err := json.Marshal(e.Prefs)
	if err != nil {
		return nil, fmt.Errorf("marshal prefs: %w", err)
	}
	env, err := keys.Seal(content, prefs)
	if err != nil {
		return nil, fmt.Errorf("seal event content: %w", err)
	}
	return env, nil
}

// openEventContent opens an envelope back into the event's private groups.
func openEventContent(keys *crypto.Keyring, env *crypto.Envelope, e *domain.Event) error {
	content, prefs, err := keys.Open(env)
	if err != nil {
		return fmt.Errorf("open event content: %w", err)
	}
	if err := json.Unmarshal(content, &e.Content); err != nil {
		return fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal(prefs, &e.Prefs); err != nil {
		return fmt.Errorf("unmarshal prefs: %w", err)
	}
	return nil
}
