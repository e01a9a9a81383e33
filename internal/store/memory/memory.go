// Package memory is the in-process store backend. It backs the service
// tests and the default DATA_BACKEND.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/IvPalmer/vault-sub000/internal/core"
)

type Store struct {
	mu sync.Mutex

	nextTxID      int64
	nextMappingID int64
	nextRuleID    int64

	txs       map[int64]*core.Transaction
	cats      map[int64]core.Category
	templates map[int64]core.RecurringTemplate
	mappings  map[int64]core.RecurringMapping
	budgets   []core.BudgetConfig
	balances  map[string]core.BalanceOverride
	rules     []core.CategorizationRule
	renames   []core.RenameRule
	cards     []core.MetricCard
}

func New() *Store {
	return &Store{
		nextTxID:      1,
		nextMappingID: 1,
		nextRuleID:    1,
		txs:           make(map[int64]*core.Transaction),
		cats:          make(map[int64]core.Category),
		templates:     make(map[int64]core.RecurringTemplate),
		mappings:      make(map[int64]core.RecurringMapping),
		balances:      make(map[string]core.BalanceOverride),
	}
}

// Seed helpers. Tests and the memory backend build their world with
// these; they are not part of the store port.

func (s *Store) AddTransaction(t core.Transaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextTxID
	}
	if t.ID >= s.nextTxID {
		s.nextTxID = t.ID + 1
	}
	cp := t
	s.txs[t.ID] = &cp
	return t.ID
}

func (s *Store) AddCategory(c core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats[c.ID] = c
}

func (s *Store) AddTemplate(t core.RecurringTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *Store) AddBudgetOverride(b core.BudgetConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets = append(s.budgets, b)
}

func (s *Store) SetBalanceOverride(b core.BalanceOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[b.Month.String()] = b
}

func (s *Store) AddRule(r core.CategorizationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.nextRuleID
	}
	if r.ID >= s.nextRuleID {
		s.nextRuleID = r.ID + 1
	}
	s.rules = append(s.rules, r)
}

func (s *Store) AddMetricCard(c core.MetricCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, c)
}

// TransactionReader

func (s *Store) Transaction(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return *t, nil
}

func (s *Store) TransactionsByIDs(_ context.Context, ids []int64) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Transaction, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.txs[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) TransactionsByMonth(_ context.Context, m core.Month) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool { return t.Month == m }), nil
}

func (s *Store) TransactionsByInvoiceMonth(_ context.Context, m core.Month) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool { return t.InvoiceMonth == m }), nil
}

func (s *Store) TransactionsByCategory(_ context.Context, m core.Month, category string) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool {
		return t.Month == m && strings.EqualFold(t.Category, category)
	}), nil
}

func (s *Store) InstallmentTransactions(_ context.Context) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool { return t.IsInstallment }), nil
}

func (s *Store) CategorizedTransactions(_ context.Context) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool { return t.Category != "" }), nil
}

func (s *Store) UncategorizedTransactions(_ context.Context, m *core.Month) ([]core.Transaction, error) {
	return s.filter(func(t *core.Transaction) bool {
		if t.Category != "" {
			return false
		}
		return m == nil || t.Month == *m
	}), nil
}

func (s *Store) filter(keep func(*core.Transaction) bool) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.txs {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TransactionWriter

func (s *Store) UpdateTransactionCategory(_ context.Context, id int64, category, subcategory string, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	t.Category = category
	t.Subcategory = subcategory
	t.ManuallyCategorized = manual
	return nil
}

func (s *Store) UpdateTransactionDescription(_ context.Context, id int64, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	t.Description = description
	return nil
}

// TaxonomyReader

func (s *Store) Categories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.cats))
	for _, c := range s.cats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CategoryByID(_ context.Context, id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cats[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) CategoryByName(_ context.Context, name string) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cats {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return core.Category{}, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
}

func (s *Store) ActiveTemplates(_ context.Context) ([]core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringTemplate
	for _, t := range s.templates {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TemplateByID(_ context.Context, id int64) (core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return core.RecurringTemplate{}, fmt.Errorf("template %d: %w", id, core.ErrNotFound)
	}
	return t, nil
}

// MappingStore

func (s *Store) MappingsByMonth(_ context.Context, m core.Month) ([]core.RecurringMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurringMapping
	for _, mp := range s.mappings {
		if mp.Month == m {
			out = append(out, cloneMapping(mp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MappingByID(_ context.Context, id int64) (core.RecurringMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mp, ok := s.mappings[id]
	if !ok {
		return core.RecurringMapping{}, fmt.Errorf("mapping %d: %w", id, core.ErrNotFound)
	}
	return cloneMapping(mp), nil
}

// cloneMapping detaches the link slices so callers can mutate the
// returned value without touching the stored mapping.
func cloneMapping(mp core.RecurringMapping) core.RecurringMapping {
	mp.LinkedTxIDs = append([]int64(nil), mp.LinkedTxIDs...)
	mp.CrossMonthTxIDs = append([]int64(nil), mp.CrossMonthTxIDs...)
	return mp
}

func (s *Store) CreateMapping(_ context.Context, mapping core.RecurringMapping) (int64, error) {
	if err := mapping.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping.ID = s.nextMappingID
	s.nextMappingID++
	s.mappings[mapping.ID] = cloneMapping(mapping)
	return mapping.ID, nil
}

func (s *Store) UpdateMapping(_ context.Context, mapping core.RecurringMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[mapping.ID]; !ok {
		return fmt.Errorf("mapping %d: %w", mapping.ID, core.ErrNotFound)
	}
	s.mappings[mapping.ID] = cloneMapping(mapping)
	return nil
}

func (s *Store) DeleteMapping(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mp, ok := s.mappings[id]
	if !ok {
		return fmt.Errorf("mapping %d: %w", id, core.ErrNotFound)
	}
	if !mp.IsCustom() {
		return fmt.Errorf("mapping %d is template-backed: %w", id, core.ErrInvalidState)
	}
	delete(s.mappings, id)
	return nil
}

func (s *Store) CrossMonthClaims(_ context.Context, m core.Month) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, mp := range s.mappings {
		if mp.Month == m {
			continue
		}
		for _, id := range mp.CrossMonthTxIDs {
			if t, ok := s.txs[id]; ok && t.Month == m {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// ConfigReader

func (s *Store) BudgetOverrides(_ context.Context, m core.Month) ([]core.BudgetConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.BudgetConfig
	for _, b := range s.budgets {
		if b.Month == m {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) BalanceOverride(_ context.Context, m core.Month) (*core.BalanceOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[m.String()]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) MetricCards(_ context.Context) ([]core.MetricCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.MetricCard(nil), s.cards...), nil
}

// RuleStore

func (s *Store) Rules(_ context.Context) ([]core.CategorizationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.CategorizationRule(nil), s.rules...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveRule(_ context.Context, rule core.CategorizationRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		rule.ID = s.nextRuleID
		s.nextRuleID++
	}
	for i, r := range s.rules {
		if r.ID == rule.ID {
			s.rules[i] = rule
			return rule.ID, nil
		}
	}
	s.rules = append(s.rules, rule)
	return rule.ID, nil
}

func (s *Store) RenameRules(_ context.Context) ([]core.RenameRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RenameRule(nil), s.renames...), nil
}

func (s *Store) SaveRenameRule(_ context.Context, rule core.RenameRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		rule.ID = int64(len(s.renames) + 1)
	}
	s.renames = append(s.renames, rule)
	return rule.ID, nil
}
