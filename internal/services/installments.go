package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

// projectionLookback is how many prior months are scanned when a month
// has no real statement data.
const projectionLookback = 12

// purchaseID identifies one multi-month purchase across statements. A
// statement may list every remaining position of a purchase; only the
// lowest position per identity is the real charge.
type purchaseID struct {
	base    string
	account int64
	amount  string
	total   int
}

// identityOf builds the purchase identity for an installment row. ok is
// false for rows whose position text cannot be parsed; those stay in
// totals but cannot be deduplicated or projected.
func identityOf(t core.Transaction) (purchaseID, bool) {
	_, total, ok := t.InstallmentPosition()
	if !ok {
		return purchaseID{}, false
	}
	return purchaseID{
		base:    normalizeDescription(t.BaseDescription()),
		account: t.AccountID,
		amount:  core.RoundedAbs(t.Amount),
		total:   total,
	}, true
}

// InstallmentService deduplicates statement installment rows and
// projects charges into months without real statement data.
type InstallmentService struct {
	store store.TransactionReader
}

func NewInstallmentService(st store.TransactionReader) *InstallmentService {
	return &InstallmentService{store: st}
}

// MonthInstallments is one month of the schedule.
type MonthInstallments struct {
	Month     string          `json:"month"`
	Total     decimal.Decimal `json:"total"`
	Projected bool            `json:"projected"`
}

type installmentRow struct {
	tx      core.Transaction
	current int
	total   int
	id      purchaseID
	parsed  bool
}

// statementMonth is the month an installment row is billed under: the
// invoice period when present, the natural month otherwise.
func statementMonth(t core.Transaction) core.Month {
	if !t.InvoiceMonth.IsZero() {
		return t.InvoiceMonth
	}
	return t.Month
}

// loadRows groups every installment-flagged row by statement month.
func (s *InstallmentService) loadRows(ctx context.Context) (map[core.Month][]installmentRow, error) {
	txs, err := s.store.InstallmentTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load installment transactions: %w", err)
	}
	byMonth := make(map[core.Month][]installmentRow)
	for _, t := range txs {
		row := installmentRow{tx: t}
		if id, ok := identityOf(t); ok {
			row.current, row.total, _ = t.InstallmentPosition()
			row.id, row.parsed = id, true
		}
		m := statementMonth(t)
		byMonth[m] = append(byMonth[m], row)
	}
	return byMonth, nil
}

// dedupe keeps the lowest position per identity; unparseable rows pass
// through untouched.
func dedupe(rows []installmentRow) []installmentRow {
	lowest := make(map[purchaseID]installmentRow)
	var out []installmentRow
	for _, r := range rows {
		if !r.parsed {
			out = append(out, r)
			continue
		}
		if prev, ok := lowest[r.id]; !ok || r.current < prev.current {
			lowest[r.id] = r
		}
	}
	for _, r := range lowest {
		out = append(out, r)
	}
	return out
}

// Schedule computes the installment totals for horizon months starting
// at target. Months with real statement data use the deduplicated sum
// of their rows; months without are projected from up to twelve prior
// months of statements.
func (s *InstallmentService) Schedule(ctx context.Context, target core.Month, horizon int) ([]MonthInstallments, error) {
	if horizon < 1 {
		horizon = 1
	}
	byMonth, err := s.loadRows(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MonthInstallments, 0, horizon)
	for i := 0; i < horizon; i++ {
		m := target.AddMonths(i)
		total, projected := monthTotal(byMonth, m)
		out = append(out, MonthInstallments{Month: m.String(), Total: total, Projected: projected})
	}
	return out, nil
}

// MonthTotal returns one month's installment total and whether it was
// projected rather than read off a real statement.
func (s *InstallmentService) MonthTotal(ctx context.Context, m core.Month) (decimal.Decimal, bool, error) {
	byMonth, err := s.loadRows(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	total, projected := monthTotal(byMonth, m)
	return total, projected, nil
}

func monthTotal(byMonth map[core.Month][]installmentRow, m core.Month) (decimal.Decimal, bool) {
	if rows, ok := byMonth[m]; ok && len(rows) > 0 {
		total := decimal.Zero
		for _, r := range dedupe(rows) {
			total = total.Add(r.tx.Amount.Abs())
		}
		return total, false
	}

	// No real statement: walk back, projecting each purchase forward.
	// A purchase seen in several source months counts once, from the
	// most recent statement.
	seen := make(map[purchaseID]bool)
	total := decimal.Zero
	for lookback := 1; lookback <= projectionLookback; lookback++ {
		source := m.AddMonths(-lookback)
		rows, ok := byMonth[source]
		if !ok {
			continue
		}
		for _, r := range dedupe(rows) {
			if !r.parsed || seen[r.id] {
				continue
			}
			seen[r.id] = true
			projected := r.current + lookback
			if projected <= r.total {
				total = total.Add(r.tx.Amount.Abs())
			}
		}
	}
	return total, true
}

// LastInstallmentMonth returns the furthest month any open purchase
// still projects a charge into, letting the UI expose future months
// with no real data yet. The zero Month means no installments exist.
func (s *InstallmentService) LastInstallmentMonth(ctx context.Context) (core.Month, error) {
	byMonth, err := s.loadRows(ctx)
	if err != nil {
		return core.Month{}, err
	}
	var last core.Month
	for m, rows := range byMonth {
		for _, r := range dedupe(rows) {
			if !r.parsed {
				continue
			}
			remaining := r.total - r.current
			end := m.AddMonths(remaining)
			if last.IsZero() || end.After(last) {
				last = end
			}
		}
	}
	return last, nil
}
