package model

// BalanceSummary is a point-in-time view of a peer balance. Amounts are decimal strings.
type BalanceSummary struct {
	Value   string `json:"balance"`
	Minimum string `json:"minimum"`
	Maximum string `json:"maximum"`
	Scale   int    `json:"scale"`
}
