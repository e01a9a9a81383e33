package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IvPalmer/vault-sub000/internal/core"
)

const (
	// Name similarity cutoff for suggestions.
	suggestionCutoff = 0.5
	// Amount tolerance for the suggestion fallback.
	suggestionAmountTol = 0.05
	// Amount tolerance against the previous month's linked pattern.
	prevMonthAmountTol = 0.05
	// Token overlap required to match by name alone.
	nameOverlapMin = 0.5
	// Amount tolerance for the last auto-link resort.
	autoLinkAmountTol = 0.10
)

// suggestFor proposes the best unlinked candidate for a missing item:
// fuzzy name similarity first, amount tolerance second. Advisory only;
// nothing is linked until the user confirms.
func (s *RecurringService) suggestFor(view RecurringItemView, monthTxs []core.Transaction, claimed map[int64]bool) *LinkSuggestion {
	nameKey := displayNameKey(view.Name)

	var best *LinkSuggestion
	for _, t := range monthTxs {
		if !candidateFor(view.Type, t, claimed) {
			continue
		}
		score := similarity(nameKey, normalizeDescription(t.Description))
		if score < suggestionCutoff {
			continue
		}
		if best == nil || score > best.Score {
			best = &LinkSuggestion{
				TransactionID: t.ID,
				Description:   t.Description,
				Amount:        t.Amount,
				Reason:        "name",
				Score:         score,
			}
		}
	}
	if best != nil {
		return best
	}

	if view.Expected.IsZero() {
		return nil
	}
	for _, t := range monthTxs {
		if !candidateFor(view.Type, t, claimed) {
			continue
		}
		if core.WithinTolerance(t.Amount, view.Expected, suggestionAmountTol) {
			return &LinkSuggestion{
				TransactionID: t.ID,
				Description:   t.Description,
				Amount:        t.Amount,
				Reason:        "amount",
			}
		}
	}
	return nil
}

// AutoLink batch-resolves the month's still-unlinked manual items. For
// each one it tries, in order: the previous month's linked pattern,
// name/description overlap, then plain amount tolerance. The first
// strategy that produces a candidate wins and the link is persisted.
func (s *RecurringService) AutoLink(ctx context.Context, month core.Month) (int, error) {
	views, err := s.RecurringData(ctx, month)
	if err != nil {
		return 0, err
	}
	monthTxs, err := s.store.TransactionsByMonth(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("load month transactions: %w", err)
	}
	mappings, err := s.store.MappingsByMonth(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("load mappings: %w", err)
	}
	claimed := claimedTxIDs(mappings)

	prevPatterns, err := s.previousPatterns(ctx, month)
	if err != nil {
		return 0, err
	}

	linked := 0
	for _, view := range views {
		if view.Mode != core.MatchManual || view.Status != core.StatusFaltando {
			continue
		}
		tx, strategy := s.pickCandidate(view, monthTxs, claimed, prevPatterns[displayNameKey(view.Name)])
		if tx == nil {
			continue
		}
		if _, err := s.MapTransaction(ctx, view.MappingID, tx.ID); err != nil {
			return linked, fmt.Errorf("auto-link mapping %d: %w", view.MappingID, err)
		}
		claimed[tx.ID] = true
		linked++
		slog.InfoContext(ctx, "Auto-linked recurring item",
			"mapping_id", view.MappingID, "tx_id", tx.ID, "strategy", strategy)
	}
	return linked, nil
}

// linkedPattern is what a recurring item looked like last month: the
// normalized descriptions and amounts of its linked transactions.
type linkedPattern struct {
	descriptions []string
	amounts      []core.Transaction
}

// previousPatterns indexes last month's linked transactions by the
// normalized item name.
func (s *RecurringService) previousPatterns(ctx context.Context, month core.Month) (map[string]linkedPattern, error) {
	prev, err := s.store.MappingsByMonth(ctx, month.Prev())
	if err != nil {
		return nil, fmt.Errorf("load previous month mappings: %w", err)
	}
	patterns := make(map[string]linkedPattern)
	for _, mapping := range prev {
		ids := mapping.AllLinkedIDs()
		if len(ids) == 0 {
			continue
		}
		view, err := s.computeView(ctx, mapping)
		if err != nil {
			return nil, err
		}
		txs, err := s.store.TransactionsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load previous links: %w", err)
		}
		pat := patterns[displayNameKey(view.Name)]
		for _, t := range txs {
			pat.descriptions = append(pat.descriptions, normalizeDescription(t.Description))
		}
		pat.amounts = append(pat.amounts, txs...)
		patterns[displayNameKey(view.Name)] = pat
	}
	return patterns, nil
}

// pickCandidate runs the auto-link strategy chain for one item.
func (s *RecurringService) pickCandidate(view RecurringItemView, monthTxs []core.Transaction, claimed map[int64]bool, pattern linkedPattern) (*core.Transaction, string) {
	nameKey := displayNameKey(view.Name)
	nameTokens := descriptionTokens(view.Name)

	// 1. Previous month's pattern: exact normalized description, or
	// amount within tolerance of a previously linked amount plus some
	// token overlap with it.
	for i := range monthTxs {
		t := &monthTxs[i]
		if !candidateFor(view.Type, *t, claimed) {
			continue
		}
		norm := normalizeDescription(t.Description)
		for _, prevDesc := range pattern.descriptions {
			if norm == prevDesc && norm != "" {
				return t, "previous_month_exact"
			}
		}
		for _, prevTx := range pattern.amounts {
			if !core.WithinTolerance(t.Amount, prevTx.Amount, prevMonthAmountTol) {
				continue
			}
			if _, shared := tokenOverlap(descriptionTokens(t.Description), descriptionTokens(prevTx.Description)); shared >= 1 {
				return t, "previous_month_amount"
			}
		}
	}

	// 2. Name vs description: token overlap or substring containment.
	for i := range monthTxs {
		t := &monthTxs[i]
		if !candidateFor(view.Type, *t, claimed) {
			continue
		}
		norm := normalizeDescription(t.Description)
		if nameKey != "" && norm != "" && (strings.Contains(norm, nameKey) || strings.Contains(nameKey, norm)) {
			return t, "name_substring"
		}
		if overlap, _ := tokenOverlap(nameTokens, descriptionTokens(t.Description)); overlap >= nameOverlapMin {
			return t, "name_tokens"
		}
	}

	// 3. Amount alone, within 10% of expected.
	if view.Expected.IsZero() {
		return nil, ""
	}
	for i := range monthTxs {
		t := &monthTxs[i]
		if !candidateFor(view.Type, *t, claimed) {
			continue
		}
		if core.WithinTolerance(t.Amount, view.Expected, autoLinkAmountTol) {
			return t, "amount"
		}
	}
	return nil, ""
}
