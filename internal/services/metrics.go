package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

const (
	// maxCascade bounds the backward walk for a balance anchor.
	maxCascade = 24
	// attentionThreshold flips health to "attention" once actual
	// expenses exceed this share of projected expenses.
	attentionThreshold = 0.90
)

// Health classification tiers.
type HealthStatus string

const (
	HealthCritical  HealthStatus = "critical"
	HealthAttention HealthStatus = "attention"
	HealthOK        HealthStatus = "healthy"
)

// CardInvoice is one credit card's statement total for the month.
type CardInvoice struct {
	Account string          `json:"account"`
	Total   decimal.Decimal `json:"total"`
}

// MetricCardResult is one evaluated user-defined card.
type MetricCardResult struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// MetricasResult is the month's headline indicator set.
type MetricasResult struct {
	Month             string             `json:"month"`
	Balance           decimal.Decimal    `json:"balance"`
	Anchored          bool               `json:"anchored"`
	ActualIncome      decimal.Decimal    `json:"actual_income"`
	ProjectedIncome   decimal.Decimal    `json:"projected_income"`
	ActualExpenses    decimal.Decimal    `json:"actual_expenses"`
	ProjectedExpenses decimal.Decimal    `json:"projected_expenses"`
	FixedExpenses     decimal.Decimal    `json:"fixed_expenses"`
	VariableExpenses  decimal.Decimal    `json:"variable_expenses"`
	CardInvoices      []CardInvoice      `json:"card_invoices"`
	InstallmentTotal  decimal.Decimal    `json:"installment_total"`
	PendingIncome     decimal.Decimal    `json:"pending_income"`
	PendingExpenses   decimal.Decimal    `json:"pending_expenses"`
	DaysToClosing     int                `json:"days_to_closing"`
	DailyAllowance    decimal.Decimal    `json:"daily_allowance"`
	Health            HealthStatus       `json:"health"`
	Cards             []MetricCardResult `json:"cards,omitempty"`
}

// MetricsService aggregates the monthly indicators, chaining each
// month's ending balance into the next.
type MetricsService struct {
	store        store.Store
	recurring    *RecurringService
	installments *InstallmentService
	now          func() time.Time
}

func NewMetricsService(st store.Store, recurring *RecurringService, installments *InstallmentService) *MetricsService {
	return &MetricsService{
		store:        st,
		recurring:    recurring,
		installments: installments,
		now:          time.Now,
	}
}

// monthFlows are the aggregates the cascade chains month over month.
type monthFlows struct {
	actualIncome    decimal.Decimal
	actualExpenses  decimal.Decimal
	pendingIncome   decimal.Decimal
	pendingExpenses decimal.Decimal
	fixedExpenses   decimal.Decimal
	variableExpense decimal.Decimal
	categoryTotals  map[string]decimal.Decimal
	views           []RecurringItemView
}

// netWithPending is the delta a month contributes to the cascade.
func (f monthFlows) netWithPending() decimal.Decimal {
	return f.actualIncome.Sub(f.actualExpenses).
		Add(f.pendingIncome).Sub(f.pendingExpenses)
}

// flows computes one month's income/expense aggregates with the
// cross-month adjustment applied: rows claimed by another month's
// mapping are excluded here, rows this month's mappings claim from
// elsewhere are included exactly once.
func (s *MetricsService) flows(ctx context.Context, month core.Month) (monthFlows, error) {
	f := monthFlows{
		actualIncome:    decimal.Zero,
		actualExpenses:  decimal.Zero,
		pendingIncome:   decimal.Zero,
		pendingExpenses: decimal.Zero,
		fixedExpenses:   decimal.Zero,
		variableExpense: decimal.Zero,
		categoryTotals:  make(map[string]decimal.Decimal),
	}

	txs, err := s.store.TransactionsByMonth(ctx, month)
	if err != nil {
		return f, fmt.Errorf("load month transactions: %w", err)
	}
	claimedElsewhere, err := s.store.CrossMonthClaims(ctx, month)
	if err != nil {
		return f, fmt.Errorf("load cross-month claims: %w", err)
	}
	exclude := make(map[int64]bool, len(claimedElsewhere))
	for _, id := range claimedElsewhere {
		exclude[id] = true
	}

	views, err := s.recurring.RecurringData(ctx, month)
	if err != nil {
		return f, err
	}
	f.views = views

	// Transactions linked to fixed-type items leave the variable pool.
	fixedLinked := make(map[int64]bool)
	for _, v := range views {
		switch v.Type {
		case core.TypeIncome:
			f.pendingIncome = f.pendingIncome.Add(pendingGap(v))
		case core.TypeFixed, core.TypeInvestment:
			f.pendingExpenses = f.pendingExpenses.Add(pendingGap(v))
		}
		if v.Type == core.TypeFixed {
			f.fixedExpenses = f.fixedExpenses.Add(v.Actual)
			for _, id := range v.LinkedTxIDs {
				fixedLinked[id] = true
			}
		}
	}

	mappings, err := s.store.MappingsByMonth(ctx, month)
	if err != nil {
		return f, fmt.Errorf("load mappings: %w", err)
	}
	var includeIDs []int64
	for _, m := range mappings {
		includeIDs = append(includeIDs, m.CrossMonthTxIDs...)
	}
	included, err := s.store.TransactionsByIDs(ctx, includeIDs)
	if err != nil {
		return f, fmt.Errorf("load cross-month links: %w", err)
	}

	count := func(t core.Transaction) {
		if t.IsTransfer {
			return
		}
		if t.Amount.IsPositive() {
			f.actualIncome = f.actualIncome.Add(t.Amount)
			return
		}
		abs := t.Amount.Abs()
		f.actualExpenses = f.actualExpenses.Add(abs)
		if !fixedLinked[t.ID] {
			f.variableExpense = f.variableExpense.Add(abs)
		}
		if t.Category != "" {
			f.categoryTotals[t.Category] = f.categoryTotals[t.Category].Add(abs)
		}
	}
	for _, t := range txs {
		if exclude[t.ID] {
			continue
		}
		count(t)
	}
	for _, t := range included {
		count(t)
	}
	return f, nil
}

func pendingGap(v RecurringItemView) decimal.Decimal {
	if v.Status == core.StatusPulado {
		return decimal.Zero
	}
	gap := v.Expected.Sub(v.Actual.Abs())
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// cascadeBalance resolves the month's ending balance. An explicit
// anchor is authoritative; it already reflects realized flows, so only
// the pending deltas are applied. Without one, the walk looks back for
// the nearest anchored month and chains forward; with no anchor in
// range it degrades to a zero-anchored single-month computation.
func (s *MetricsService) cascadeBalance(ctx context.Context, month core.Month, f monthFlows) (decimal.Decimal, bool, error) {
	if override, err := s.store.BalanceOverride(ctx, month); err != nil {
		return decimal.Zero, false, fmt.Errorf("load balance override: %w", err)
	} else if override != nil {
		balance := override.Balance.Add(f.pendingIncome).Sub(f.pendingExpenses)
		return balance, true, nil
	}

	// Iterative backward walk, bounded; the visited set guards against
	// month arithmetic ever cycling.
	visited := map[core.Month]bool{month: true}
	anchorMonth := core.Month{}
	anchor := decimal.Zero
	for back := 1; back <= maxCascade; back++ {
		m := month.AddMonths(-back)
		if visited[m] {
			break
		}
		visited[m] = true
		override, err := s.store.BalanceOverride(ctx, m)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("load balance override: %w", err)
		}
		if override != nil {
			anchorMonth, anchor = m, override.Balance
			break
		}
	}

	if anchorMonth.IsZero() {
		// No anchor anywhere in range: current month only, from zero.
		return f.netWithPending(), false, nil
	}

	// Chain each month's own result forward. The anchored month's own
	// result is the override plus its pending deltas, so the chain
	// starts there, not from the raw anchor.
	af, err := s.flows(ctx, anchorMonth)
	if err != nil {
		return decimal.Zero, false, err
	}
	balance := anchor.Add(af.pendingIncome).Sub(af.pendingExpenses)
	for m := anchorMonth.Next(); m.Before(month); m = m.Next() {
		mf, err := s.flows(ctx, m)
		if err != nil {
			return decimal.Zero, false, err
		}
		balance = balance.Add(mf.netWithPending())
	}
	return balance.Add(f.netWithPending()), false, nil
}

// Metricas computes the month's full indicator set.
func (s *MetricsService) Metricas(ctx context.Context, month core.Month) (MetricasResult, error) {
	f, err := s.flows(ctx, month)
	if err != nil {
		return MetricasResult{}, err
	}

	balance, anchored, err := s.cascadeBalance(ctx, month, f)
	if err != nil {
		return MetricasResult{}, err
	}

	invoiceTxs, err := s.store.TransactionsByInvoiceMonth(ctx, month)
	if err != nil {
		return MetricasResult{}, fmt.Errorf("load invoice transactions: %w", err)
	}
	invoices := invoiceTotals(invoiceTxs)

	installmentTotal, _, err := s.installments.MonthTotal(ctx, month)
	if err != nil {
		return MetricasResult{}, err
	}

	result := MetricasResult{
		Month:             month.String(),
		Balance:           balance,
		Anchored:          anchored,
		ActualIncome:      f.actualIncome,
		ProjectedIncome:   f.actualIncome.Add(f.pendingIncome),
		ActualExpenses:    f.actualExpenses,
		ProjectedExpenses: f.actualExpenses.Add(f.pendingExpenses),
		FixedExpenses:     f.fixedExpenses,
		VariableExpenses:  f.variableExpense,
		CardInvoices:      invoices,
		InstallmentTotal:  installmentTotal,
		PendingIncome:     f.pendingIncome,
		PendingExpenses:   f.pendingExpenses,
		DaysToClosing:     s.daysToClosing(month, invoiceTxs),
		Health:            health(balance, f),
	}
	result.DailyAllowance = s.dailyAllowance(month, balance)

	cards, err := s.evaluateCards(ctx, result, f)
	if err != nil {
		return MetricasResult{}, err
	}
	result.Cards = cards
	return result, nil
}

// invoiceTotals groups card rows billed under the month by account.
func invoiceTotals(txs []core.Transaction) []CardInvoice {
	totals := make(map[string]decimal.Decimal)
	for _, t := range txs {
		if t.AccountKind != core.AccountCard || !t.Amount.IsNegative() {
			continue
		}
		totals[t.Account] = totals[t.Account].Add(t.Amount.Abs())
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]CardInvoice, 0, len(names))
	for _, name := range names {
		out = append(out, CardInvoice{Account: name, Total: totals[name]})
	}
	return out
}

// daysToClosing counts days until the next card statement close, using
// the close day carried on the month's card rows, clamped to a valid
// calendar day.
func (s *MetricsService) daysToClosing(month core.Month, invoiceTxs []core.Transaction) int {
	closeDay := 0
	for _, t := range invoiceTxs {
		if t.InvoiceCloseDay > 0 {
			closeDay = t.InvoiceCloseDay
			break
		}
	}
	if closeDay == 0 {
		return 0
	}
	now := s.now().UTC().Truncate(24 * time.Hour)
	closing := month.Date(closeDay)
	if !closing.After(now) {
		closing = month.Next().Date(closeDay)
	}
	days := int(closing.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// dailyAllowance spreads the remaining projected balance over the days
// left in the current month, or over the whole month otherwise.
func (s *MetricsService) dailyAllowance(month core.Month, balance decimal.Decimal) decimal.Decimal {
	if balance.IsNegative() {
		return decimal.Zero
	}
	days := month.DaysIn()
	now := s.now().UTC()
	if core.MonthOf(now) == month {
		if left := days - now.Day() + 1; left > 0 {
			days = left
		}
	}
	return balance.Div(decimal.NewFromInt(int64(days))).Round(2)
}

func health(balance decimal.Decimal, f monthFlows) HealthStatus {
	if balance.LessThanOrEqual(decimal.Zero) {
		return HealthCritical
	}
	projected := f.actualExpenses.Add(f.pendingExpenses)
	if !projected.IsZero() &&
		core.Ratio(f.actualExpenses, projected).GreaterThan(decimal.NewFromFloat(attentionThreshold)) {
		return HealthAttention
	}
	return HealthOK
}

// evaluateCards computes the user-defined metric cards in a second
// pass, reusing the aggregates already in hand. No per-row queries.
func (s *MetricsService) evaluateCards(ctx context.Context, result MetricasResult, f monthFlows) ([]MetricCardResult, error) {
	cards, err := s.store.MetricCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metric cards: %w", err)
	}
	if len(cards) == 0 {
		return nil, nil
	}

	indicators := map[string]decimal.Decimal{
		"balance":            result.Balance,
		"actual_income":      result.ActualIncome,
		"projected_income":   result.ProjectedIncome,
		"actual_expenses":    result.ActualExpenses,
		"projected_expenses": result.ProjectedExpenses,
		"fixed_expenses":     result.FixedExpenses,
		"variable_expenses":  result.VariableExpenses,
		"installment_total":  result.InstallmentTotal,
		"pending_income":     result.PendingIncome,
		"pending_expenses":   result.PendingExpenses,
		"daily_allowance":    result.DailyAllowance,
		"days_to_closing":    decimal.NewFromInt(int64(result.DaysToClosing)),
	}

	out := make([]MetricCardResult, 0, len(cards))
	for _, card := range cards {
		value := decimal.Zero
		switch card.Kind {
		case core.CardCategoryTotal:
			value = f.categoryTotals[card.Category]
		case core.CardIndicator:
			value = indicators[card.Indicator]
		}
		out = append(out, MetricCardResult{Name: card.Name, Value: value})
	}
	return out, nil
}
