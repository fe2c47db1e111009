// Package model provides the data structures shared by the sync agent:
// the per-branch daily sales aggregate and its durable queue wrapper.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-date format used everywhere a sale
// date crosses a boundary: ERP query parameters, cloud store rows, and the
// local queue. Dates never carry a time component, so comparisons are
// immune to timezone drift between the branch machine and the cloud.
const DateLayout = "2006-01-02"

// DailySalesAggregate is the unit of synchronization: one branch, one
// calendar day, rolled up across all sale and return vouchers.
//
// The natural key is (BranchID, SaleDate). Re-publishing the same key
// overwrites the cloud row rather than duplicating it, which makes every
// publish idempotent and safe to replay.
type DailySalesAggregate struct {
	BranchID int    `json:"branch_id"`
	SaleDate string `json:"sale_date"` // DateLayout, no time component

	TotalBills   int `json:"total_bills"`
	TotalReturns int `json:"total_returns"`
	NetBills     int `json:"net_bills"`

	GrossAmount    decimal.Decimal `json:"gross_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ReturnAmount   decimal.Decimal `json:"return_amount"`
	ReturnTax      decimal.Decimal `json:"return_tax"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	NetTax         decimal.Decimal `json:"net_tax"`

	// LastSyncAt is set at publish time, not at extraction time.
	LastSyncAt time.Time `json:"last_sync_at"`
}

// NewAggregate combines the sale-side and return-side totals for one date
// into an aggregate with the derived net fields computed. This is the only
// place the net invariants are computed; downstream consumers (queue,
// publisher) carry the values through unchanged.
func NewAggregate(branchID int, saleDate string, sales SalesTotals, returns ReturnTotals) *DailySalesAggregate {
	return &DailySalesAggregate{
		BranchID:       branchID,
		SaleDate:       saleDate,
		TotalBills:     sales.Bills,
		TotalReturns:   returns.Returns,
		NetBills:       sales.Bills - returns.Returns,
		GrossAmount:    sales.Gross,
		TaxAmount:      sales.Tax,
		DiscountAmount: sales.Discount,
		ReturnAmount:   returns.Amount,
		ReturnTax:      returns.Tax,
		NetAmount:      sales.Gross.Sub(returns.Amount),
		NetTax:         sales.Tax.Sub(returns.Tax),
	}
}

// SalesTotals is the result of the sale-voucher aggregation query.
type SalesTotals struct {
	Bills    int
	Gross    decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
}

// ReturnTotals is the result of the return-voucher aggregation query.
type ReturnTotals struct {
	Returns int
	Amount  decimal.Decimal
	Tax     decimal.Decimal
}

// Validate checks that the aggregate is structurally sound and that the
// derived net fields still satisfy their invariants.
func (a *DailySalesAggregate) Validate() error {
	if a.BranchID <= 0 {
		return fmt.Errorf("branch_id must be positive (got %d)", a.BranchID)
	}
	if _, err := time.Parse(DateLayout, a.SaleDate); err != nil {
		return fmt.Errorf("sale_date must be %s: %w", DateLayout, err)
	}
	if a.TotalBills < 0 || a.TotalReturns < 0 {
		return fmt.Errorf("bill counts must be non-negative (bills=%d returns=%d)", a.TotalBills, a.TotalReturns)
	}
	if a.NetBills != a.TotalBills-a.TotalReturns {
		return fmt.Errorf("net_bills invariant violated: %d != %d - %d", a.NetBills, a.TotalBills, a.TotalReturns)
	}
	if !a.NetAmount.Equal(a.GrossAmount.Sub(a.ReturnAmount)) {
		return fmt.Errorf("net_amount invariant violated: %s != %s - %s", a.NetAmount, a.GrossAmount, a.ReturnAmount)
	}
	if !a.NetTax.Equal(a.TaxAmount.Sub(a.ReturnTax)) {
		return fmt.Errorf("net_tax invariant violated: %s != %s - %s", a.NetTax, a.TaxAmount, a.ReturnTax)
	}
	return nil
}

// QueueRecord wraps an aggregate that could not be published, as persisted
// in the local durable queue.
//
// Lifecycle: created on publish failure; RetryCount and LastError updated
// on each failed replay; Synced flips to true exactly once on successful
// replay. Synced records older than the retention window are pruned;
// unsynced records are never pruned regardless of age.
type QueueRecord struct {
	ID         int64
	Aggregate  DailySalesAggregate
	CreatedAt  time.Time
	Synced     bool
	RetryCount int
	LastError  string
}
