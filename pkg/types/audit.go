package types

type AuditArtifact struct {
	Schema               string   `json:"schema"`
	ArtifactID           string   `json:"artifact_id"`
	InstructionID        string   `json:"instruction_id"`
	EndToEndID           string   `json:"end_to_end_id"`
	Decision             Decision `json:"decision"`
	ReasoningSteps       []string `json:"reasoning_steps"`
	Timestamp            string   `json:"timestamp"`
	Amount               string   `json:"amount"`
	Currency             string   `json:"currency"`
	Priority             Priority `json:"priority"`
	BalanceBefore        string   `json:"balance_before"`
	BalanceAfter         string   `json:"balance_after,omitempty"`
	OpportunityCostSaved string   `json:"opportunity_cost_saved,omitempty"`
	RepoAmount           string   `json:"repo_amount,omitempty"`
	RiskScore            string   `json:"risk_score"`
	SettlementID         string   `json:"settlement_id,omitempty"`
	PolicyHash           string   `json:"policy_hash,omitempty"`
	IntentHash           string   `json:"intent_hash"`
}
