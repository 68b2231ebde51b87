package fraud

// CheckResult is the wire shape of a fraud verdict, shared by the check
// endpoint response and the transaction metadata audit payload.
type CheckResult struct {
	Safe      bool      `json:"safe"`
	RiskScore float64   `json:"riskScore"`
	Flags     []string  `json:"flags"`
	AI        *AIResult `json:"ai,omitempty"`
}

// AIResult is the adjudicator portion of the wire shape.
type AIResult struct {
	Reasons []string `json:"reasons"`
	Score   float64  `json:"score"`
}

// Wire converts an evaluation into its wire shape.
func (e Evaluation) Wire() CheckResult {
	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}
	res := CheckResult{
		Safe:      e.Safe,
		RiskScore: e.RiskScore,
		Flags:     flags,
	}
	if e.AI != nil {
		reasons := e.AI.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		res.AI = &AIResult{Reasons: reasons, Score: e.AI.RiskScore}
	}
	return res
}
