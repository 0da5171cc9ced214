// Package ledger tracks raw coffee bean lots and the append-only event log
// that explains every change to their stock weight.
package ledger

import (
	"errors"
	"time"
)

// ActionType enumerates ledger event kinds.
type ActionType string

const (
	// ActionInbound records receipt of raw bean stock.
	ActionInbound ActionType = "INBOUND"
	// ActionRoast records consumption of raw beans by roasting.
	ActionRoast ActionType = "ROAST"
	// ActionStocktake records a correction after a physical count.
	ActionStocktake ActionType = "STOCKTAKE"
)

// Bean is a named lot of raw coffee with its current stock weight in kilograms.
type Bean struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Origin      string    `json:"origin"`
	Process     string    `json:"process"`
	StockWeight float64   `json:"stock_weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transaction is an immutable ledger entry recording one stock change and its
// cause. BeanName is populated on read joins for display only.
type Transaction struct {
	ID           int64      `json:"id"`
	BeanID       int64      `json:"bean_id"`
	BeanName     string     `json:"bean_name,omitempty"`
	Action       ActionType `json:"action_type"`
	AmountChange float64    `json:"amount_change"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StockSummary aggregates the dashboard headline numbers.
type StockSummary struct {
	TotalStock float64 `json:"total_stock"`
	BeanCount  int     `json:"bean_count"`
}

// Overview bundles everything the dashboard displays.
type Overview struct {
	Summary StockSummary  `json:"summary"`
	Beans   []Bean        `json:"beans"`
	Recent  []Transaction `json:"recent_transactions"`
}

// ReceiveInput describes an inbound receipt. Origin and Process always
// overwrite the stored values on an existing bean, blanks included.
type ReceiveInput struct {
	Name    string
	Origin  string
	Process string
	Weight  float64
	Ref     string
}

// ConsumeInput describes a roast consumption.
type ConsumeInput struct {
	Name   string
	Weight float64
	Ref    string
}

// CorrectInput describes a stocktake correction to the operator-observed weight.
type CorrectInput struct {
	Name         string
	ActualWeight float64
	Ref          string
}

// ReceiveResult reports the bean after an inbound receipt.
type ReceiveResult struct {
	Bean    Bean `json:"bean"`
	Created bool `json:"created"`
}

// ConsumeResult reports the bean after a roast. Underflow flags a negative
// stock weight; the operation itself succeeded.
type ConsumeResult struct {
	Bean      Bean `json:"bean"`
	Underflow bool `json:"underflow"`
}

// CorrectResult reports the applied difference. Diff zero means no ledger
// entry was written.
type CorrectResult struct {
	Bean Bean    `json:"bean"`
	Diff float64 `json:"diff"`
}

// Sentinel errors surfaced across the service boundary.
var (
	ErrNameRequired  = errors.New("ledger: bean name required")
	ErrInvalidWeight = errors.New("ledger: weight must not be negative")
	ErrInvalidRef    = errors.New("ledger: ref must be a valid UUID")
	ErrBeanNotFound  = errors.New("ledger: bean not found")
	ErrBeanExists    = errors.New("ledger: bean already exists")
)
