package translate

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/pemistahl/lingua-go"
)

// MinDetectableRunes is the shortest linguistic remainder worth detecting.
// Shorter inputs produce a TooShort outcome, not an error.
const MinDetectableRunes = 4

// Detection is one detector's opinion.
type Detection struct {
	Language   string // ISO 639-1, lowercase
	Confidence float64
}

// Detector is one member of the ensemble.
type Detector interface {
	Name() string
	Weight() float64
	Detect(text string) (Detection, bool)
}

// linguaDetector wraps the statistical n-gram detector.
type linguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds the primary ensemble member over all supported
// languages. Building the models is expensive; construct once per process.
func NewLinguaDetector() Detector {
	return &linguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build(),
	}
}

func (d *linguaDetector) Name() string    { return "lingua" }
func (d *linguaDetector) Weight() float64 { return 1.0 }

func (d *linguaDetector) Detect(text string) (Detection, bool) {
	values := d.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 {
		return Detection{}, false
	}
	best := values[0]
	return Detection{
		Language:   strings.ToLower(best.Language().IsoCode639_1().String()),
		Confidence: best.Value(),
	}, true
}

// whatlangDetector is the trigram back-off detector.
type whatlangDetector struct{}

// NewWhatlangDetector creates the back-off ensemble member.
func NewWhatlangDetector() Detector {
	return whatlangDetector{}
}

func (whatlangDetector) Name() string    { return "whatlang" }
func (whatlangDetector) Weight() float64 { return 0.8 }

func (whatlangDetector) Detect(text string) (Detection, bool) {
	info := whatlanggo.Detect(text)
	iso := info.Lang.Iso6391()
	if iso == "" {
		return Detection{}, false
	}
	return Detection{Language: iso, Confidence: info.Confidence}, true
}

// stopwordDetector is the last-resort statistical member: it scores function
// word hit ratios for a handful of high-traffic languages. Cheap, low
// weight, useful when the n-gram models disagree on short text.
type stopwordDetector struct{}

// NewStopwordDetector creates the heuristic ensemble member.
func NewStopwordDetector() Detector {
	return stopwordDetector{}
}

var stopwords = map[string][]string{
	"en": {"the", "and", "is", "you", "that", "for", "are", "with", "this", "have"},
	"es": {"que", "los", "las", "una", "por", "con", "para", "está", "pero", "como"},
	"fr": {"les", "des", "une", "est", "que", "pour", "dans", "avec", "pas", "vous"},
	"de": {"der", "die", "und", "das", "ist", "nicht", "ein", "mit", "für", "auf"},
	"pt": {"que", "não", "uma", "com", "por", "para", "mais", "como", "mas", "você"},
	"it": {"che", "per", "non", "una", "con", "sono", "del", "come", "anche", "questo"},
	"nl": {"het", "een", "van", "dat", "niet", "met", "voor", "zijn", "maar", "ook"},
}

func (stopwordDetector) Name() string    { return "stopwords" }
func (stopwordDetector) Weight() float64 { return 0.5 }

func (stopwordDetector) Detect(text string) (Detection, bool) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return Detection{}, false
	}
	bestLang := ""
	bestHits := 0
	for lang, list := range stopwords {
		hits := 0
		for _, w := range words {
			for _, sw := range list {
				if w == sw {
					hits++
					break
				}
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestLang = lang
		}
	}
	if bestLang == "" {
		return Detection{}, false
	}
	conf := float64(bestHits) / float64(len(words))
	if conf > 0.95 {
		conf = 0.95
	}
	return Detection{Language: bestLang, Confidence: conf}, true
}

// Ensemble combines detector opinions with a weighted vote.
type Ensemble struct {
	detectors []Detector
}

// NewEnsemble creates an ensemble; order only affects tie-breaking.
func NewEnsemble(detectors ...Detector) *Ensemble {
	return &Ensemble{detectors: detectors}
}

// Detect returns the weighted-vote winner across the ensemble. The reported
// confidence is the weighted mean of the winner's supporters over all voting
// members, so a contested vote scores lower than a unanimous one.
func (e *Ensemble) Detect(text string) (Detection, bool) {
	type vote struct {
		weighted float64 // sum of weight*confidence for this language
	}
	votes := map[string]*vote{}
	var totalWeight float64
	order := []string{}
	for _, d := range e.detectors {
		det, ok := d.Detect(text)
		if !ok || det.Language == "" {
			continue
		}
		totalWeight += d.Weight()
		v, seen := votes[det.Language]
		if !seen {
			v = &vote{}
			votes[det.Language] = v
			order = append(order, det.Language)
		}
		v.weighted += d.Weight() * det.Confidence
	}
	if totalWeight == 0 {
		return Detection{}, false
	}
	bestLang := ""
	bestScore := -1.0
	for _, lang := range order {
		if votes[lang].weighted > bestScore {
			bestScore = votes[lang].weighted
			bestLang = lang
		}
	}
	// Dissenting weight dilutes the winner, so a contested vote scores
	// lower than a unanimous one.
	return Detection{
		Language:   bestLang,
		Confidence: votes[bestLang].weighted / totalWeight,
	}, true
}
