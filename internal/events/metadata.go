package events

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DonationMeta is the typed view of donation metadata.
type DonationMeta struct {
	Amount   float64 `mapstructure:"amount"`
	Currency string  `mapstructure:"currency"`
}

// CheerMeta is the typed view of cheer metadata.
type CheerMeta struct {
	Bits int `mapstructure:"bits"`
}

// SubscriptionMeta is the typed view of subscription metadata.
type SubscriptionMeta struct {
	Tier   int  `mapstructure:"tier"`
	IsGift bool `mapstructure:"is_gift"`
}

// DecodeMeta validates and converts the opaque metadata carrier into a typed
// record on entry to a subsystem that needs it.
func DecodeMeta(meta map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("metadata decoder: %w", err)
	}
	if err := decoder.Decode(meta); err != nil {
		return fmt.Errorf("%w: metadata: %v", ErrValidation, err)
	}
	return nil
}

// DonationAmount extracts the donation amount, defaulting to zero.
func (e *Envelope) DonationAmount() float64 {
	var m DonationMeta
	if err := DecodeMeta(e.Metadata, &m); err != nil {
		return 0
	}
	return m.Amount
}

// CheerBits extracts the cheered bits, defaulting to zero.
func (e *Envelope) CheerBits() int {
	var m CheerMeta
	if err := DecodeMeta(e.Metadata, &m); err != nil {
		return 0
	}
	return m.Bits
}

// SubTier extracts the subscription tier, defaulting to 1.
func (e *Envelope) SubTier() int {
	var m SubscriptionMeta
	if err := DecodeMeta(e.Metadata, &m); err != nil || m.Tier == 0 {
		return 1
	}
	return m.Tier
}
