package reputation

// Tier is one of five bands derived from a 300-850 score.
type Tier string

const (
	TierExceptional Tier = "Exceptional"
	TierVeryGood    Tier = "Very Good"
	TierGood        Tier = "Good"
	TierFair        Tier = "Fair"
	TierPoor        Tier = "Poor"
)

// TierFor derives the tier band for a score.
func TierFor(score float64) Tier {
	switch {
	case score >= 800:
		return TierExceptional
	case score >= 740:
		return TierVeryGood
	case score >= 670:
		return TierGood
	case score >= 580:
		return TierFair
	default:
		return TierPoor
	}
}
