package modelrouter

import (
	"log/slog"
	"slices"

	"github.com/useparley/parley/plugin/quota"
)

// Request is the routing context for one message.
type Request struct {
	Content         string
	Tier            quota.Tier
	RequestedModel  string  // the caller's explicit choice, if any
	MonthlySpendUSD float64 // live spend snapshot, used by the pro cost override
}

// Selection is the routing outcome.
type Selection struct {
	Model    string
	Reason   string // "category", "user-choice", "tier-default", "cost-warn", "cost-cap"
	Features Features
}

// Reasoning reports whether the selected model streams a reasoning phase.
func (s Selection) Reasoning() bool {
	return s.Model == quota.ModelReasoning
}

// Route selects the model variant for a message.
//
// Free tier routes deterministically by category and ignores the caller's
// model choice, keeping free-tier cost predictable. Paid tiers honor a
// permitted explicit choice and otherwise use the tier default. The top
// tier additionally applies a live cost override.
func Route(req Request) Selection {
	features := Classify(req.Content)
	caps := quota.CapabilitiesFor(req.Tier)

	if req.Tier == quota.TierFree || req.Tier == "" {
		return Selection{
			Model:    freeCategoryModel(features),
			Reason:   "category",
			Features: features,
		}
	}

	sel := Selection{Model: caps.DefaultModel, Reason: "tier-default", Features: features}
	if req.RequestedModel != "" && slices.Contains(caps.AllowedModels, req.RequestedModel) {
		sel.Model = req.RequestedModel
		sel.Reason = "user-choice"
	}

	if req.Tier == quota.TierPro {
		sel = applyCostOverride(sel, caps, req.MonthlySpendUSD)
	}
	return sel
}

func freeCategoryModel(f Features) string {
	switch {
	case f.Academic, f.Complexity == ComplexityComplex && !f.HasCode:
		return quota.ModelAcademic
	case f.HasCode:
		return quota.ModelCoding
	default:
		return quota.ModelGeneral
	}
}

// applyCostOverride silently downgrades expensive selections when the
// monthly spend crosses the warn threshold, and forces the cheapest
// fallback past the hard limit.
func applyCostOverride(sel Selection, caps quota.Capabilities, spendUSD float64) Selection {
	switch {
	case caps.MonthlySpendLimitUSD > 0 && spendUSD >= caps.MonthlySpendLimitUSD:
		slog.Warn("monthly spend hard limit reached, forcing economy model", "spend_usd", spendUSD)
		sel.Model = quota.ModelEconomy
		sel.Reason = "cost-cap"
	case caps.MonthlySpendWarnUSD > 0 && spendUSD >= caps.MonthlySpendWarnUSD:
		if sel.Model == quota.ModelReasoning || sel.Model == quota.ModelAcademic {
			sel.Model = quota.ModelGeneral
			sel.Reason = "cost-warn"
		}
	}
	return sel
}
