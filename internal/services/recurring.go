// Package services implements the analytics engines: recurring
// reconciliation, installment projection, cascading metrics and the
// smart categorizer. Each operation loads a bounded working set from
// the store, computes in memory and persists before returning.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

// paidThreshold separates "pago" from "parcial": an item is considered
// paid once actual reaches 90% of expected.
const paidThreshold = 0.90

// RecurringService maintains one reconciliation row per recurring item
// per month and computes whether each was fulfilled.
type RecurringService struct {
	store store.Store
}

func NewRecurringService(st store.Store) *RecurringService {
	return &RecurringService{store: st}
}

// RecurringItemView is the computed state of one mapping for display.
type RecurringItemView struct {
	MappingID   int64               `json:"mapping_id"`
	Name        string              `json:"name"`
	Type        core.CategoryType   `json:"type"`
	Month       string              `json:"month"`
	Mode        core.MatchMode      `json:"mode"`
	Custom      bool                `json:"custom"`
	Status      core.PaymentStatus  `json:"status"`
	Expected    decimal.Decimal     `json:"expected"`
	Actual      decimal.Decimal     `json:"actual"`
	DueDay      int                 `json:"due_day,omitempty"`
	LinkedTxIDs []int64             `json:"linked_tx_ids,omitempty"`
	Suggestion  *LinkSuggestion     `json:"suggestion,omitempty"`
}

// LinkSuggestion proposes a candidate transaction for a missing item.
type LinkSuggestion struct {
	TransactionID int64           `json:"transaction_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"` // "name" or "amount"
	Score         float64         `json:"score,omitempty"`
}

// InitializeMonth creates exactly one mapping per active template that
// does not have one yet, using the month's budget override when present
// and the template default otherwise. Calling it twice is a no-op.
func (s *RecurringService) InitializeMonth(ctx context.Context, month core.Month) (int, error) {
	templates, err := s.store.ActiveTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load templates: %w", err)
	}
	existing, err := s.store.MappingsByMonth(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("load mappings: %w", err)
	}
	have := make(map[int64]bool, len(existing))
	for _, m := range existing {
		if id := m.TemplateID(); id != 0 {
			have[id] = true
		}
	}
	overrides, err := s.store.BudgetOverrides(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("load budget overrides: %w", err)
	}
	limitFor := func(templateID int64, fallback decimal.Decimal) decimal.Decimal {
		for _, o := range overrides {
			if o.TemplateID == templateID {
				return o.Limit
			}
		}
		return fallback
	}

	created := 0
	for _, tpl := range templates {
		if have[tpl.ID] {
			continue
		}
		mapping := core.RecurringMapping{
			Month:    month,
			Source:   core.TemplateBacked{TemplateID: tpl.ID},
			Mode:     core.MatchManual,
			Expected: limitFor(tpl.ID, tpl.DefaultLimit),
		}
		if _, err := s.store.CreateMapping(ctx, mapping); err != nil {
			return created, fmt.Errorf("create mapping for template %d: %w", tpl.ID, err)
		}
		created++
	}
	if created > 0 {
		slog.InfoContext(ctx, "Initialized recurring month",
			"month", month.String(), "created", created)
	}
	return created, nil
}

// AddCustomItem creates a one-off mapping for the month (an item with
// no backing template).
func (s *RecurringService) AddCustomItem(ctx context.Context, month core.Month, name string, typ core.CategoryType, expected decimal.Decimal) (int64, error) {
	mapping := core.RecurringMapping{
		Month:    month,
		Source:   core.Custom{Name: name, Type: typ},
		Mode:     core.MatchManual,
		Expected: expected,
	}
	id, err := s.store.CreateMapping(ctx, mapping)
	if err != nil {
		return 0, fmt.Errorf("create custom item: %w", err)
	}
	return id, nil
}

// RemoveCustomItem deletes a custom mapping. Template-backed rows are
// never deleted; deactivate the template instead.
func (s *RecurringService) RemoveCustomItem(ctx context.Context, mappingID int64) error {
	return s.store.DeleteMapping(ctx, mappingID)
}

// RecurringData returns the computed reconciliation rows for the month,
// lazily initializing it from the active templates when empty.
func (s *RecurringService) RecurringData(ctx context.Context, month core.Month) ([]RecurringItemView, error) {
	mappings, err := s.store.MappingsByMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	if len(mappings) == 0 {
		if _, err := s.InitializeMonth(ctx, month); err != nil {
			return nil, err
		}
		if mappings, err = s.store.MappingsByMonth(ctx, month); err != nil {
			return nil, fmt.Errorf("reload mappings: %w", err)
		}
	}

	monthTxs, err := s.store.TransactionsByMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("load month transactions: %w", err)
	}
	claimed := claimedTxIDs(mappings)

	views := make([]RecurringItemView, 0, len(mappings))
	for _, mapping := range mappings {
		view, err := s.computeView(ctx, mapping)
		if err != nil {
			return nil, err
		}
		if view.Status == core.StatusFaltando {
			view.Suggestion = s.suggestFor(view, monthTxs, claimed)
		}
		views = append(views, view)
	}
	return views, nil
}

// computeView resolves the mapping's display identity and derives its
// actual amount and payment status.
func (s *RecurringService) computeView(ctx context.Context, mapping core.RecurringMapping) (RecurringItemView, error) {
	view := RecurringItemView{
		MappingID: mapping.ID,
		Month:     mapping.Month.String(),
		Mode:      mapping.Mode,
		Custom:    mapping.IsCustom(),
		Expected:  mapping.Expected,
		Actual:    decimal.Zero,
	}

	switch src := mapping.Source.(type) {
	case core.TemplateBacked:
		tpl, err := s.store.TemplateByID(ctx, src.TemplateID)
		if err != nil {
			return view, fmt.Errorf("resolve template %d: %w", src.TemplateID, err)
		}
		view.Name, view.Type, view.DueDay = tpl.Name, tpl.Type, tpl.DueDay
	case core.Custom:
		view.Name, view.Type = src.Name, src.Type
	}

	if mapping.Skipped {
		view.Status = core.StatusPulado
		return view, nil
	}

	var txs []core.Transaction
	var err error
	switch mapping.Mode {
	case core.MatchCategory:
		// Actual is always re-derived live from the store, never cached.
		cat, catErr := s.store.CategoryByID(ctx, mapping.CategoryID)
		if catErr != nil {
			return view, fmt.Errorf("resolve category %d: %w", mapping.CategoryID, catErr)
		}
		txs, err = s.store.TransactionsByCategory(ctx, mapping.Month, cat.Name)
		if err == nil && len(mapping.CrossMonthTxIDs) > 0 {
			var cross []core.Transaction
			cross, err = s.store.TransactionsByIDs(ctx, mapping.CrossMonthTxIDs)
			txs = append(txs, cross...)
		}
	default:
		txs, err = s.store.TransactionsByIDs(ctx, mapping.AllLinkedIDs())
	}
	if err != nil {
		return view, fmt.Errorf("load linked transactions: %w", err)
	}

	view.Actual = actualAmount(view.Type, txs)
	view.Status = classify(view.Actual, mapping.Expected)
	for _, t := range txs {
		view.LinkedTxIDs = append(view.LinkedTxIDs, t.ID)
	}
	return view, nil
}

// actualAmount sums transactions for a recurring item: raw signed sum
// for income, absolute sum for everything else.
func actualAmount(typ core.CategoryType, txs []core.Transaction) decimal.Decimal {
	if typ == core.TypeIncome {
		return core.SumSigned(txs)
	}
	return core.SumAbs(txs)
}

// classify applies the paid/partial/missing thresholds.
func classify(actual, expected decimal.Decimal) core.PaymentStatus {
	if actual.IsZero() {
		if expected.IsZero() {
			return core.StatusPago
		}
		return core.StatusFaltando
	}
	if expected.IsZero() {
		return core.StatusPago
	}
	if core.Ratio(actual.Abs(), expected.Abs()).GreaterThanOrEqual(decimal.NewFromFloat(paidThreshold)) {
		return core.StatusPago
	}
	return core.StatusParcial
}

// MapTransaction links a transaction to a mapping. Linking forces
// manual mode; when the transaction's natural month differs from the
// mapping's month it is recorded as a cross-month link so it is counted
// once, in the mapping's month.
func (s *RecurringService) MapTransaction(ctx context.Context, mappingID, txID int64) (RecurringItemView, error) {
	mapping, err := s.store.MappingByID(ctx, mappingID)
	if err != nil {
		return RecurringItemView{}, err
	}
	tx, err := s.store.Transaction(ctx, txID)
	if err != nil {
		return RecurringItemView{}, err
	}

	mapping.Mode = core.MatchManual
	if tx.Month == mapping.Month {
		mapping.LinkedTxIDs = appendID(mapping.LinkedTxIDs, txID)
	} else {
		mapping.CrossMonthTxIDs = appendID(mapping.CrossMonthTxIDs, txID)
	}
	if err := s.store.UpdateMapping(ctx, mapping); err != nil {
		return RecurringItemView{}, fmt.Errorf("update mapping: %w", err)
	}
	slog.InfoContext(ctx, "Linked transaction to recurring item",
		"mapping_id", mappingID, "tx_id", txID,
		"cross_month", tx.Month != mapping.Month)
	return s.computeView(ctx, mapping)
}

// UnmapTransaction removes a link (regular, cross-month or legacy).
func (s *RecurringService) UnmapTransaction(ctx context.Context, mappingID, txID int64) (RecurringItemView, error) {
	mapping, err := s.store.MappingByID(ctx, mappingID)
	if err != nil {
		return RecurringItemView{}, err
	}
	mapping.LinkedTxIDs = removeID(mapping.LinkedTxIDs, txID)
	mapping.CrossMonthTxIDs = removeID(mapping.CrossMonthTxIDs, txID)
	if mapping.LegacyLinkID == txID {
		mapping.LegacyLinkID = 0
	}
	if err := s.store.UpdateMapping(ctx, mapping); err != nil {
		return RecurringItemView{}, fmt.Errorf("update mapping: %w", err)
	}
	return s.computeView(ctx, mapping)
}

// SetSkipped marks or unmarks a mapping as intentionally skipped for
// its month.
func (s *RecurringService) SetSkipped(ctx context.Context, mappingID int64, skipped bool) error {
	mapping, err := s.store.MappingByID(ctx, mappingID)
	if err != nil {
		return err
	}
	mapping.Skipped = skipped
	return s.store.UpdateMapping(ctx, mapping)
}

// CategorizeInstallmentSiblings assigns the same category to every row
// of the purchase the given installment transaction belongs to. One
// purchase appears as N monthly rows; they must be categorized as one.
func (s *RecurringService) CategorizeInstallmentSiblings(ctx context.Context, txID int64, category, subcategory string) (int, error) {
	tx, err := s.store.Transaction(ctx, txID)
	if err != nil {
		return 0, err
	}
	id, ok := identityOf(tx)
	if !ok {
		// Unparseable position: categorize only the row itself.
		if err := s.store.UpdateTransactionCategory(ctx, txID, category, subcategory, true); err != nil {
			return 0, err
		}
		return 1, nil
	}

	rows, err := s.store.InstallmentTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load installment rows: %w", err)
	}
	updated := 0
	for _, row := range rows {
		rid, ok := identityOf(row)
		if !ok || rid != id {
			continue
		}
		if err := s.store.UpdateTransactionCategory(ctx, row.ID, category, subcategory, true); err != nil {
			return updated, fmt.Errorf("categorize sibling %d: %w", row.ID, err)
		}
		updated++
	}
	slog.InfoContext(ctx, "Categorized installment siblings",
		"tx_id", txID, "category", category, "rows", updated)
	return updated, nil
}

// claimedTxIDs collects every transaction id linked by any mapping of
// the working set.
func claimedTxIDs(mappings []core.RecurringMapping) map[int64]bool {
	claimed := make(map[int64]bool)
	for _, m := range mappings {
		for _, id := range m.AllLinkedIDs() {
			claimed[id] = true
		}
	}
	return claimed
}

func appendID(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// candidateFor reports whether a transaction can be offered to a
// recurring item: unclaimed, not an internal transfer, and on the right
// side of zero for the item's type.
func candidateFor(typ core.CategoryType, t core.Transaction, claimed map[int64]bool) bool {
	if claimed[t.ID] || t.IsTransfer {
		return false
	}
	if typ == core.TypeIncome {
		return t.Amount.IsPositive()
	}
	return t.Amount.IsNegative()
}

// displayNameKey is the normalized form of an item name used for
// name-vs-description comparison.
func displayNameKey(name string) string {
	return normalizeDescription(strings.ToLower(name))
}
