package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wealthdesk/wealthdesk/internal/universe"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

type ConditionType string

const (
	ConditionPrice ConditionType = "price"
	ConditionDate  ConditionType = "date"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type TradeStatus string

const (
	StatusPlanned  TradeStatus = "planned"
	StatusExecuted TradeStatus = "executed"
)

// PlannedTrade is a user's forward intention to trade. Whether it is
// currently triggered is derived, never stored: it is recomputed live from
// the simulated price or the clock. The executed transition happens only
// when the user confirms execution.
type PlannedTrade struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	TradeType     TradeType     `json:"trade_type"`
	ConditionType ConditionType `json:"condition_type"`
	TargetPrice   float64       `json:"target_price,omitempty"`
	TargetDate    time.Time     `json:"target_date,omitempty"`
	Quantity      float64       `json:"quantity,omitempty"`
	Amount        float64       `json:"amount,omitempty"`
	Priority      Priority      `json:"priority"`
	Status        TradeStatus   `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ExecutedAt    *time.Time    `json:"executed_at,omitempty"`
}

// NewPlannedTrade builds a planned trade with a fresh ID.
func NewPlannedTrade(symbol string, tt TradeType) PlannedTrade {
	return PlannedTrade{
		ID:        uuid.NewString(),
		Symbol:    universe.Normalize(symbol),
		TradeType: tt,
		Priority:  PriorityMedium,
		Status:    StatusPlanned,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate enforces the invariants a trade must hold before it is stored.
func (p PlannedTrade) Validate() error {
	if universe.Normalize(p.Symbol) == "" {
		return fmt.Errorf("planned trade %s: empty symbol", p.ID)
	}
	if p.TradeType != TradeBuy && p.TradeType != TradeSell {
		return fmt.Errorf("planned trade %s: invalid trade type %q", p.ID, p.TradeType)
	}
	if p.Quantity <= 0 && p.Amount <= 0 {
		return fmt.Errorf("planned trade %s: needs a quantity or an amount", p.ID)
	}
	switch p.ConditionType {
	case ConditionPrice:
		if p.TargetPrice <= 0 {
			return fmt.Errorf("planned trade %s: price condition needs a positive target", p.ID)
		}
	case ConditionDate:
		if p.TargetDate.IsZero() {
			return fmt.Errorf("planned trade %s: date condition needs a target date", p.ID)
		}
	default:
		return fmt.Errorf("planned trade %s: invalid condition type %q", p.ID, p.ConditionType)
	}
	return nil
}

// Triggered derives whether the trade's condition currently holds. currentPrice
// is the latest simulated price for the symbol, zero when unknown. Executed
// trades never report as triggered.
func (p PlannedTrade) Triggered(now time.Time, currentPrice float64) bool {
	if p.Status == StatusExecuted {
		return false
	}
	switch p.ConditionType {
	case ConditionDate:
		return !now.Before(p.TargetDate)
	case ConditionPrice:
		if currentPrice <= 0 || p.TargetPrice <= 0 {
			return false
		}
		if p.TradeType == TradeBuy {
			return currentPrice <= p.TargetPrice
		}
		return currentPrice >= p.TargetPrice
	}
	return false
}

// MarkExecuted records the user-confirmed execution.
func (p *PlannedTrade) MarkExecuted(at time.Time) {
	p.Status = StatusExecuted
	t := at.UTC()
	p.ExecutedAt = &t
}
