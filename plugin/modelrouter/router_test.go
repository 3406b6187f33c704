package modelrouter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/useparley/parley/plugin/quota"
)

func TestClassifyCodeFence(t *testing.T) {
	f := Classify("please review\n```go\nfmt.Println(\"hi\")\n```\n")
	assert.True(t, f.HasCode)
}

func TestClassifyUnfencedCode(t *testing.T) {
	f := Classify("why does func main() crash with panic: nil map")
	assert.True(t, f.HasCode)
	assert.True(t, f.IsQuestion)
}

func TestClassifyQuestionAndBuckets(t *testing.T) {
	f := Classify("What's the capital of France?")
	assert.True(t, f.IsQuestion)
	assert.Equal(t, ComplexitySimple, f.Complexity)

	long := Classify(strings.Repeat("elaborate on the trade-offs involved ", 30))
	assert.Equal(t, ComplexityComplex, long.Complexity)
}

func TestClassifyAcademicAndShopping(t *testing.T) {
	assert.True(t, Classify("summarize this research paper on theorem proving").Academic)
	assert.True(t, Classify("where can I buy this at a discount").Shopping)
}

func TestFreeTierRoutesByCategory(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"academic", "help me structure a literature review for my research paper", quota.ModelAcademic},
		{"code", "```python\nprint(1)\n```", quota.ModelCoding},
		{"general", "hey, what's up with the weather today?", quota.ModelGeneral},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sel := Route(Request{Content: tc.content, Tier: quota.TierFree})
			assert.Equal(t, tc.want, sel.Model)
			assert.Equal(t, "category", sel.Reason)
		})
	}
}

func TestFreeTierIgnoresUserChoice(t *testing.T) {
	sel := Route(Request{
		Content:        "hello there",
		Tier:           quota.TierFree,
		RequestedModel: quota.ModelReasoning,
	})
	assert.Equal(t, quota.ModelGeneral, sel.Model)
}

func TestPaidTierHonorsPermittedChoice(t *testing.T) {
	sel := Route(Request{
		Content:        "hello",
		Tier:           quota.TierPlus,
		RequestedModel: quota.ModelCoding,
	})
	assert.Equal(t, quota.ModelCoding, sel.Model)
	assert.Equal(t, "user-choice", sel.Reason)

	// Reasoning is not in the plus allow-list; fall back to the default.
	sel = Route(Request{
		Content:        "hello",
		Tier:           quota.TierPlus,
		RequestedModel: quota.ModelReasoning,
	})
	assert.Equal(t, quota.ModelGeneral, sel.Model)
	assert.Equal(t, "tier-default", sel.Reason)
}

func TestProCostOverride(t *testing.T) {
	req := Request{
		Content:        "hello",
		Tier:           quota.TierPro,
		RequestedModel: quota.ModelReasoning,
	}

	req.MonthlySpendUSD = 50
	assert.Equal(t, quota.ModelReasoning, Route(req).Model)

	// Above the warn threshold a cheaper-but-capable variant substitutes.
	req.MonthlySpendUSD = 250
	sel := Route(req)
	assert.Equal(t, quota.ModelGeneral, sel.Model)
	assert.Equal(t, "cost-warn", sel.Reason)

	// Above the hard limit the cheapest fallback wins regardless.
	req.MonthlySpendUSD = 600
	sel = Route(req)
	assert.Equal(t, quota.ModelEconomy, sel.Model)
	assert.Equal(t, "cost-cap", sel.Reason)
}

func TestSelectionReasoningFlag(t *testing.T) {
	assert.True(t, Selection{Model: quota.ModelReasoning}.Reasoning())
	assert.False(t, Selection{Model: quota.ModelGeneral}.Reasoning())
}
