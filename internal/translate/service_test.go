package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fixedDetector always answers the same detection.
type fixedDetector struct {
	name   string
	weight float64
	det    Detection
	ok     bool
}

func (f fixedDetector) Name() string    { return f.name }
func (f fixedDetector) Weight() float64 { return f.weight }
func (f fixedDetector) Detect(string) (Detection, bool) {
	return f.det, f.ok
}

type fakeVerifier struct {
	det   Detection
	err   error
	calls int
}

func (f *fakeVerifier) Verify(context.Context, string, string) (Detection, error) {
	f.calls++
	if f.err != nil {
		return Detection{}, f.err
	}
	return f.det, nil
}

type fakeTranslator struct {
	out   string
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.calls++
	if f.out != "" {
		return f.out, nil
	}
	return text, nil
}

func newService(conf float64, lang string, verifier Verifier, translator Translator) *Service {
	ensemble := NewEnsemble(fixedDetector{
		name: "fixed", weight: 1.0,
		det: Detection{Language: lang, Confidence: conf}, ok: true,
	})
	return NewService(nil, ensemble, verifier, translator, "en", zap.NewNop())
}

func TestEnsembleUnanimousVote(t *testing.T) {
	e := NewEnsemble(
		fixedDetector{weight: 1.0, det: Detection{Language: "es", Confidence: 0.9}, ok: true},
		fixedDetector{weight: 0.8, det: Detection{Language: "es", Confidence: 0.8}, ok: true},
	)
	det, ok := e.Detect("hola que tal amigos")
	require.True(t, ok)
	assert.Equal(t, "es", det.Language)
	assert.InDelta(t, (1.0*0.9+0.8*0.8)/1.8, det.Confidence, 1e-9)
}

func TestEnsembleContestedVoteScoresLower(t *testing.T) {
	e := NewEnsemble(
		fixedDetector{weight: 1.0, det: Detection{Language: "es", Confidence: 0.9}, ok: true},
		fixedDetector{weight: 0.8, det: Detection{Language: "pt", Confidence: 0.85}, ok: true},
	)
	det, ok := e.Detect("text")
	require.True(t, ok)
	assert.Equal(t, "es", det.Language)
	assert.Less(t, det.Confidence, 0.9)
}

func TestProcessHighConfidenceTranslates(t *testing.T) {
	tr := &fakeTranslator{out: "hello everyone"}
	s := newService(0.95, "es", nil, tr)

	out, err := s.Process(context.Background(), "twitch", "1", "hola a todos")
	require.NoError(t, err)
	assert.Equal(t, StatusTranslated, out.Status)
	assert.Equal(t, "es", out.Language)
	assert.Equal(t, "hello everyone", out.Text)
	assert.Equal(t, 1, tr.calls)
}

func TestProcessTargetLanguageAccepted(t *testing.T) {
	tr := &fakeTranslator{}
	s := newService(0.95, "en", nil, tr)

	out, err := s.Process(context.Background(), "twitch", "1", "hello there friends")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Zero(t, tr.calls)
}

func TestProcessLowConfidenceRejected(t *testing.T) {
	tr := &fakeTranslator{}
	s := newService(0.5, "fi", nil, tr)

	out, err := s.Process(context.Background(), "twitch", "1", "mmmm hmm okay")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Zero(t, tr.calls)
}

func TestProcessTooShort(t *testing.T) {
	s := newService(0.95, "es", nil, nil)
	out, err := s.Process(context.Background(), "twitch", "1", "!x")
	require.NoError(t, err)
	assert.Equal(t, StatusTooShort, out.Status)
	assert.Equal(t, "!x", out.Text)
}

func TestVerifierAgreementBoosts(t *testing.T) {
	v := &fakeVerifier{det: Detection{Language: "es", Confidence: 0.99}}
	s := newService(0.8, "es", v, nil)

	det := s.applyTiers(context.Background(), "hola amigos", Detection{Language: "es", Confidence: 0.8})
	assert.Equal(t, VerifiedBoost, det.Confidence)
	assert.Equal(t, 1, v.calls)
}

func TestVerifierDisagreementHigherConfidenceWins(t *testing.T) {
	v := &fakeVerifier{det: Detection{Language: "pt", Confidence: 0.92}}
	s := newService(0.8, "es", v, nil)

	det := s.applyTiers(context.Background(), "texto", Detection{Language: "es", Confidence: 0.8})
	assert.Equal(t, "pt", det.Language)
	assert.Equal(t, 0.92, det.Confidence)
}

func TestVerifierDisagreementLowerConfidencePenalized(t *testing.T) {
	v := &fakeVerifier{det: Detection{Language: "pt", Confidence: 0.5}}
	s := newService(0.8, "es", v, nil)

	det := s.applyTiers(context.Background(), "texto", Detection{Language: "es", Confidence: 0.8})
	assert.Equal(t, "es", det.Language)
	assert.InDelta(t, 0.8*DisagreePenalty, det.Confidence, 1e-9)
}

func TestVerifierFailuresCapped(t *testing.T) {
	v := &fakeVerifier{err: errors.New("timeout")}
	s := newService(0.8, "es", v, nil)

	det := s.applyTiers(context.Background(), "texto", Detection{Language: "es", Confidence: 0.8})
	assert.Equal(t, 0.8, det.Confidence)
	assert.Equal(t, MaxVerifyCalls, v.calls)
}

func TestVerifierSkippedOutsideMediumBand(t *testing.T) {
	v := &fakeVerifier{det: Detection{Language: "es", Confidence: 0.99}}
	s := newService(0.95, "es", v, nil)

	s.applyTiers(context.Background(), "hola", Detection{Language: "es", Confidence: 0.95})
	assert.Zero(t, v.calls)
}
