package translate

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Confidence tiers. The bands drive whether detection is accepted outright,
// double-checked with the AI verifier, or rejected.
const (
	HighConfidence   = 0.90
	MediumConfidence = 0.70
	VerifiedBoost    = 0.95
	DisagreePenalty  = 0.9
)

// Status is the outcome class of one preprocessing run.
type Status string

const (
	StatusTranslated Status = "translated"
	StatusAccepted   Status = "accepted"  // already in the target language
	StatusRejected   Status = "rejected"  // detection confidence too low
	StatusTooShort   Status = "too_short" // not enough linguistic content
)

// Outcome is the result of Process. Rejection and too-short are outcomes,
// not errors; errors mean a dependency failed.
type Outcome struct {
	Status     Status
	Language   string
	Confidence float64
	Text       string // final message text, tokens restored
}

// Service runs the full preprocessing pass: preserve, detect, verify,
// translate, restore.
type Service struct {
	// VerifyAttempts caps AI verification calls per message. May be
	// overridden before first use.
	VerifyAttempts int

	catalog    *EmoteCatalog
	ensemble   *Ensemble
	verifier   Verifier
	translator Translator
	target     string
	log        *zap.Logger
}

// NewService wires the preprocessor. verifier and translator may be nil:
// detection then skips verification, and non-target messages come back
// StatusAccepted untranslated.
func NewService(catalog *EmoteCatalog, ensemble *Ensemble, verifier Verifier, translator Translator, targetLang string, log *zap.Logger) *Service {
	if targetLang == "" {
		targetLang = "en"
	}
	return &Service{
		VerifyAttempts: MaxVerifyCalls,
		catalog:        catalog,
		ensemble:       ensemble,
		verifier:       verifier,
		translator:     translator,
		target:         targetLang,
		log:            log.With(zap.String("module", "translate")),
	}
}

// Process detects the language of message and translates it to the target
// language, preserving non-linguistic tokens byte-for-byte.
func (s *Service) Process(ctx context.Context, platform, channelID, message string) (*Outcome, error) {
	var emotes []string
	if s.catalog != nil {
		emotes = s.catalog.Emotes(ctx, platform, channelID)
	}
	preserved, tokens := Preserve(message, emotes)

	stripped := Stripped(preserved, tokens)
	if utf8.RuneCountInString(stripped) < MinDetectableRunes {
		return &Outcome{Status: StatusTooShort, Text: message}, nil
	}

	det, ok := s.ensemble.Detect(stripped)
	if !ok {
		return &Outcome{Status: StatusRejected, Text: message}, nil
	}
	det = s.applyTiers(ctx, stripped, det)

	if det.Confidence < MediumConfidence {
		return &Outcome{Status: StatusRejected, Language: det.Language, Confidence: det.Confidence, Text: message}, nil
	}
	if det.Language == s.target {
		return &Outcome{Status: StatusAccepted, Language: det.Language, Confidence: det.Confidence, Text: message}, nil
	}
	if s.translator == nil {
		return &Outcome{Status: StatusAccepted, Language: det.Language, Confidence: det.Confidence, Text: message}, nil
	}

	translated, err := s.translator.Translate(ctx, preserved, det.Language, s.target)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Status:     StatusTranslated,
		Language:   det.Language,
		Confidence: det.Confidence,
		Text:       tokens.Restore(translated),
	}, nil
}

// applyTiers runs the medium-band AI verification rules.
func (s *Service) applyTiers(ctx context.Context, text string, det Detection) Detection {
	if det.Confidence >= HighConfidence || det.Confidence < MediumConfidence || s.verifier == nil {
		return det
	}
	for attempt := 0; attempt < s.VerifyAttempts; attempt++ {
		ai, err := s.verifier.Verify(ctx, text, det.Language)
		if err != nil {
			s.log.Debug("verification attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if ai.Language == det.Language {
			det.Confidence = VerifiedBoost
			return det
		}
		if ai.Confidence > det.Confidence {
			return ai
		}
		det.Confidence *= DisagreePenalty
		return det
	}
	// Verifier unreachable: keep the ensemble's answer.
	return det
}
