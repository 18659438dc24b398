// Package events defines the canonical event envelope that traverses every
// stream, together with its enumerations and validation.
package events

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxMessageLen caps the free-text message field.
const MaxMessageLen = 5000

// Sentinel errors for envelope validation.
var (
	ErrValidation = errors.New("invalid envelope")
)

// Envelope is the canonical event record. Created by a receiver, immutable,
// delivered at least once to downstream consumers.
type Envelope struct {
	EventID     string         `json:"event_id"`
	EventType   EventType      `json:"event_type"`
	Platform    Platform       `json:"platform"`
	EntityID    string         `json:"entity_id"`
	ServerID    string         `json:"server_id,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Username    string         `json:"username,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Message     string         `json:"message,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks the envelope against the canonical schema.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: missing event_id", ErrValidation)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", ErrValidation, e.EventType)
	}
	if !e.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrValidation, e.Platform)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity_id", ErrValidation)
	}
	if len(e.Message) > MaxMessageLen {
		return fmt.Errorf("%w: message exceeds %d chars", ErrValidation, MaxMessageLen)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	// entity_id must be derivable from platform/server/channel when the
	// sub-parts are supplied.
	if e.ServerID != "" && e.ChannelID != "" {
		derived := MakeEntityID(e.Platform, e.ServerID, e.ChannelID)
		if derived != e.EntityID {
			return fmt.Errorf("%w: entity_id %q does not match %q", ErrValidation, e.EntityID, derived)
		}
	}
	return nil
}

// Marshal serializes the envelope to JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope from JSON.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &env, nil
}
