package plan

import "fmt"

type RoundingRule string

const (
	RoundNearest RoundingRule = "round"
	RoundFloor   RoundingRule = "floor"
	RoundCeil    RoundingRule = "ceil"
)

type LeftoverCashRule string

const (
	LeftoverReinvestCore LeftoverCashRule = "reinvest_core"
	LeftoverHold         LeftoverCashRule = "hold"
)

// BrokerConstraints shape trade amounts to what the broker will accept.
type BrokerConstraints struct {
	MinimumOrderSize      float64          `json:"minimum_order_size" yaml:"minimum_order_size"`
	AllowFractionalShares bool             `json:"allow_fractional_shares" yaml:"allow_fractional_shares"`
	RoundingRule          RoundingRule     `json:"rounding_rule" yaml:"rounding_rule"`
	LeftoverCashRule      LeftoverCashRule `json:"leftover_cash_rule" yaml:"leftover_cash_rule"`
}

// Settings is the monthly strategy configuration. One record per user,
// mutated wholesale on save.
type Settings struct {
	MonthlyBudget           float64           `json:"monthly_budget" yaml:"monthly_budget"`
	CoreAllocation          float64           `json:"core_allocation" yaml:"core_allocation"`     // fraction of budget
	UpsideAllocation        float64           `json:"upside_allocation" yaml:"upside_allocation"` // fraction of budget
	MinimumUpsidePercentage float64           `json:"minimum_upside_percentage" yaml:"minimum_upside_percentage"`
	MinCoverageCount        int               `json:"min_coverage_count" yaml:"min_coverage_count"`
	MaxTargetAgeDays        int               `json:"max_target_age_days" yaml:"max_target_age_days"`
	Broker                  BrokerConstraints `json:"broker" yaml:"broker"`
}

// Configured reports whether the settings have ever been saved.
func (s Settings) Configured() bool {
	return s.MonthlyBudget > 0
}

// Validate checks the fields the evaluator depends on. Allocations summing
// above 1 are accepted.
func (s Settings) Validate() error {
	if s.MonthlyBudget <= 0 {
		return fmt.Errorf("plan settings: monthly budget must be positive, got %.2f", s.MonthlyBudget)
	}
	if s.CoreAllocation < 0 || s.CoreAllocation > 1 {
		return fmt.Errorf("plan settings: core allocation %.3f outside [0,1]", s.CoreAllocation)
	}
	if s.UpsideAllocation < 0 || s.UpsideAllocation > 1 {
		return fmt.Errorf("plan settings: upside allocation %.3f outside [0,1]", s.UpsideAllocation)
	}
	switch s.Broker.RoundingRule {
	case RoundNearest, RoundFloor, RoundCeil, "":
	default:
		return fmt.Errorf("plan settings: unknown rounding rule %q", s.Broker.RoundingRule)
	}
	switch s.Broker.LeftoverCashRule {
	case LeftoverReinvestCore, LeftoverHold, "":
	default:
		return fmt.Errorf("plan settings: unknown leftover cash rule %q", s.Broker.LeftoverCashRule)
	}
	return nil
}
