package observability

// Metric name prefixes
const (
	MetricPrefix = "wealthwars"
)

// Metric names
const (
	// Wallet link metrics
	LinkAttemptsTotal = MetricPrefix + ".links.attempts_total"

	// Balance metrics
	BalanceLookupsTotal = MetricPrefix + ".balance.lookups_total"

	// Round metrics
	EntriesTotal          = MetricPrefix + ".rounds.entries_total"
	StakedTotal           = MetricPrefix + ".rounds.staked_total"
	RoundTransitionsTotal = MetricPrefix + ".rounds.transitions_total"

	// Claim metrics
	ClaimsTotal = MetricPrefix + ".claims.total"
)

// Label keys
const (
	LabelOutcome = "outcome"
	LabelSource  = "source"
	LabelStatus  = "status"
	LabelKind    = "kind"
)
