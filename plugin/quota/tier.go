// Package quota enforces per-scope, per-resource, per-time-window limits
// that vary by subscription tier. Counters live in the persistent store;
// this package owns window bucketing and the tier capability table.
package quota

// Tier is a subscription level.
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// Resource is a countable quota dimension.
type Resource string

const (
	ResourceMessage    Resource = "message"
	ResourceAIResponse Resource = "ai_response"
	ResourceReasoning  Resource = "reasoning_response"
)

// Window is a rolling time-window kind.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Capabilities is the per-tier limit table. A zero limit means the resource
// is unavailable at that tier; a negative limit means unlimited.
type Capabilities struct {
	MessagesPerHour     int32
	MessagesPerDay      int32
	AIResponsesPerHour  int32
	AIResponsesPerDay   int32
	ReasoningPerHour    int32
	ReasoningPerDay     int32
	ThreadMessageCap    int32
	ConcurrentThreads   int
	ContextWindowTokens int

	// Model routing inputs.
	AllowedModels        []string
	DefaultModel         string
	MonthlySpendWarnUSD  float64
	MonthlySpendLimitUSD float64
}

var tierTable = map[Tier]Capabilities{
	TierFree: {
		MessagesPerHour:     100,
		MessagesPerDay:      500,
		AIResponsesPerHour:  20,
		AIResponsesPerDay:   100,
		ReasoningPerHour:    0,
		ReasoningPerDay:     0,
		ThreadMessageCap:    200,
		ConcurrentThreads:   3,
		ContextWindowTokens: 16_000,
		DefaultModel:        ModelGeneral,
	},
	TierPlus: {
		MessagesPerHour:     500,
		MessagesPerDay:      5_000,
		AIResponsesPerHour:  100,
		AIResponsesPerDay:   600,
		ReasoningPerHour:    20,
		ReasoningPerDay:     100,
		ThreadMessageCap:    1_000,
		ConcurrentThreads:   20,
		ContextWindowTokens: 64_000,
		AllowedModels:       []string{ModelGeneral, ModelCoding, ModelAcademic},
		DefaultModel:        ModelGeneral,
	},
	TierPro: {
		MessagesPerHour:      2_000,
		MessagesPerDay:       20_000,
		AIResponsesPerHour:   500,
		AIResponsesPerDay:    3_000,
		ReasoningPerHour:     100,
		ReasoningPerDay:      500,
		ThreadMessageCap:     5_000,
		ConcurrentThreads:    100,
		ContextWindowTokens:  200_000,
		AllowedModels:        []string{ModelGeneral, ModelCoding, ModelAcademic, ModelReasoning},
		DefaultModel:         ModelGeneral,
		MonthlySpendWarnUSD:  200,
		MonthlySpendLimitUSD: 500,
	},
}

// Model variant identifiers shared with the routing policy.
const (
	ModelGeneral   = "parley/general-1"
	ModelCoding    = "parley/coding-1"
	ModelAcademic  = "parley/academic-1"
	ModelReasoning = "parley/reasoning-1"
	ModelEconomy   = "parley/economy-1"
)

// CapabilitiesFor returns the limit table entry for a tier. Unknown tiers
// fall back to free.
func CapabilitiesFor(tier Tier) Capabilities {
	if caps, ok := tierTable[tier]; ok {
		return caps
	}
	return tierTable[TierFree]
}

// Limit returns the configured limit for a resource in a window.
func (c Capabilities) Limit(resource Resource, window Window) int32 {
	switch resource {
	case ResourceMessage:
		if window == WindowHour {
			return c.MessagesPerHour
		}
		return c.MessagesPerDay
	case ResourceAIResponse:
		if window == WindowHour {
			return c.AIResponsesPerHour
		}
		return c.AIResponsesPerDay
	case ResourceReasoning:
		if window == WindowHour {
			return c.ReasoningPerHour
		}
		return c.ReasoningPerDay
	}
	return 0
}
