package fraud

const unsafeThreshold = 0.7

// Blend combines the rule engine's output with an AI assessment (nil when
// the adjudicator was unavailable) into the final verdict.
//
// The blend is deliberately asymmetric: scores are averaged, but the AI's
// own safe/unsafe judgment can veto a numerically low blended score. Flags
// are unioned preserving first appearance, rule flags first.
func Blend(baseScore float64, ruleFlags []string, ai *Assessment) (safe bool, finalScore float64, flags []string) {
	if ai == nil {
		finalScore = clamp01(baseScore)
		return finalScore < unsafeThreshold, finalScore, ruleFlags
	}

	finalScore = clamp01((baseScore + ai.RiskScore) / 2)

	flags = make([]string, 0, len(ruleFlags)+len(ai.Flags))
	flags = append(flags, ruleFlags...)
	for _, f := range ai.Flags {
		if !containsFlag(flags, f) {
			flags = append(flags, f)
		}
	}

	safe = finalScore < unsafeThreshold && ai.Safe
	return safe, finalScore, flags
}

func containsFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
