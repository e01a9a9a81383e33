package core

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Category and template types.
	TypeFixed      CategoryType = "fixa"
	TypeVariable   CategoryType = "variavel"
	TypeIncome     CategoryType = "renda"
	TypeInvestment CategoryType = "investimento"

	// How a mapping derives its actual amount.
	MatchManual   MatchMode = "manual"
	MatchCategory MatchMode = "category"

	// Fulfillment classification of a recurring item in a month.
	StatusPago     PaymentStatus = "pago"
	StatusParcial  PaymentStatus = "parcial"
	StatusFaltando PaymentStatus = "faltando"
	StatusPulado   PaymentStatus = "pulado"

	// Account kinds the engines care about.
	AccountChecking AccountKind = "checking"
	AccountCard     AccountKind = "card"

	// MaxInstallments bounds the parseable "current/total" positions.
	MaxInstallments = 60
)

type (
	CategoryType  string
	MatchMode     string
	PaymentStatus string
	AccountKind   string
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
)

// IsRecurringType reports whether a category type belongs to the budget
// taxonomy (Fixed/Income/Investment). Learned categorization strategies
// must never assign these.
func (t CategoryType) IsRecurringType() bool {
	return t == TypeFixed || t == TypeIncome || t == TypeInvestment
}

// Account is a minimal view of the account a transaction belongs to.
type Account struct {
	ID   int64
	Name string
	Kind AccountKind
}

// Transaction is one normalized row of the feed. Identity is immutable;
// category, description and flags mutate in place.
type Transaction struct {
	ID                  int64
	Date                time.Time
	Description         string
	OriginalDescription string
	Amount              decimal.Decimal // signed: expenses negative, income positive
	AccountID           int64
	Account             string
	AccountKind         AccountKind
	Category            string // empty = uncategorized
	Subcategory         string
	IsInstallment       bool
	InstallmentRaw      string // "2/6" as printed on the statement
	IsTransfer          bool
	InvoiceMonth        Month // zero unless billed on a card statement
	InvoiceCloseDay     int
	Month               Month // natural month
	ManuallyCategorized bool
}

var installmentRe = regexp.MustCompile(`(\d{1,2})\s*/\s*(\d{1,2})`)

// InstallmentPosition parses the "current/total" info. ok is false when
// the text is missing or violates 1 <= current <= total <= 60; such rows
// stay in totals but skip deduplication.
func (t Transaction) InstallmentPosition() (current, total int, ok bool) {
	m := installmentRe.FindStringSubmatch(t.InstallmentRaw)
	if m == nil {
		return 0, 0, false
	}
	current, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	if current < 1 || current > total || total > MaxInstallments {
		return 0, 0, false
	}
	return current, total, true
}

// BaseDescription strips the trailing "N/M" marker off an installment
// description so all positions of one purchase share a base.
func (t Transaction) BaseDescription() string {
	base := installmentRe.ReplaceAllString(t.Description, "")
	base = strings.TrimRight(base, " -")
	return strings.TrimSpace(base)
}

func (t Transaction) Validate() error {
	if t.Month.IsZero() {
		return fmt.Errorf("transaction %d: %w", t.ID, ErrInvalidMonth)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("transaction %d: %w", t.ID, ErrEmptyDescription)
	}
	return nil
}

// Category groups transactions for budgeting and learning.
type Category struct {
	ID           int64
	Name         string
	Type         CategoryType
	DefaultLimit decimal.Decimal
	DueDay       int
}

// RecurringTemplate describes one expected monthly item (a bill, a
// salary, a standing investment).
type RecurringTemplate struct {
	ID           int64
	Name         string
	Type         CategoryType
	DefaultLimit decimal.Decimal
	DueDay       int
	Active       bool
}

// MappingSource is the tagged union behind a recurring mapping: either a
// row instantiated from a template, or a one-off custom item carrying
// its own name and type.
type MappingSource interface {
	isMappingSource()
}

type TemplateBacked struct {
	TemplateID int64
}

type Custom struct {
	Name string
	Type CategoryType
}

func (TemplateBacked) isMappingSource() {}
func (Custom) isMappingSource()         {}

// RecurringMapping is the per-month reconciliation row for one recurring
// item. Template-backed rows are never deleted, only the template is
// deactivated; custom rows may be removed.
type RecurringMapping struct {
	ID         int64
	Month      Month
	Source     MappingSource
	Mode       MatchMode
	CategoryID int64 // category mode only
	// Manual mode: explicitly linked transactions, split by whether the
	// transaction's natural month matches the mapping's month.
	LinkedTxIDs     []int64
	CrossMonthTxIDs []int64
	LegacyLinkID    int64 // single-link fallback from older rows
	Skipped         bool
	Expected        decimal.Decimal
}

// IsCustom reports whether the mapping is a one-off item.
func (m RecurringMapping) IsCustom() bool {
	_, ok := m.Source.(Custom)
	return ok
}

// TemplateID returns the backing template id, or 0 for custom rows.
func (m RecurringMapping) TemplateID() int64 {
	if tb, ok := m.Source.(TemplateBacked); ok {
		return tb.TemplateID
	}
	return 0
}

// AllLinkedIDs returns linked + cross-month ids, falling back to the
// legacy single link when both sets are empty.
func (m RecurringMapping) AllLinkedIDs() []int64 {
	ids := make([]int64, 0, len(m.LinkedTxIDs)+len(m.CrossMonthTxIDs))
	ids = append(ids, m.LinkedTxIDs...)
	ids = append(ids, m.CrossMonthTxIDs...)
	if len(ids) == 0 && m.LegacyLinkID != 0 {
		ids = append(ids, m.LegacyLinkID)
	}
	return ids
}

func (m RecurringMapping) Validate() error {
	switch src := m.Source.(type) {
	case TemplateBacked:
		if src.TemplateID == 0 {
			return fmt.Errorf("mapping %d: template-backed without template: %w", m.ID, ErrInvalidState)
		}
	case Custom:
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("mapping %d: custom without name: %w", m.ID, ErrInvalidState)
		}
	default:
		return fmt.Errorf("mapping %d: no source: %w", m.ID, ErrInvalidState)
	}
	if m.Mode == MatchCategory && m.CategoryID == 0 {
		return fmt.Errorf("mapping %d: category mode without category: %w", m.ID, ErrInvalidState)
	}
	return nil
}

// BudgetConfig overrides a template's or category's limit for one month.
type BudgetConfig struct {
	ID         int64
	Month      Month
	TemplateID int64 // one of TemplateID/CategoryID is set
	CategoryID int64
	Limit      decimal.Decimal
}

// BalanceOverride anchors the cascading balance for one month.
type BalanceOverride struct {
	Month   Month
	Balance decimal.Decimal
}

// CategorizationRule maps a keyword substring to a category.
type CategorizationRule struct {
	ID          int64
	Keyword     string
	Category    string
	Subcategory string
	Priority    int
	Active      bool
}

// Matches reports whether the rule's keyword occurs in the description
// (case-insensitive).
func (r CategorizationRule) Matches(description string) bool {
	if !r.Active || r.Keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(description), strings.ToLower(r.Keyword))
}

// RenameRule records a description correction so future imports of the
// same raw text are fixed on sight.
type RenameRule struct {
	ID   int64
	From string // original description, matched verbatim
	To   string
}

// MetricCardKind selects how a user-defined card is evaluated.
type MetricCardKind string

const (
	CardCategoryTotal MetricCardKind = "category_total"
	CardIndicator     MetricCardKind = "indicator"
)

// MetricCard is a user-defined dashboard card evaluated from the
// precomputed monthly aggregates.
type MetricCard struct {
	ID        int64
	Name      string
	Kind      MetricCardKind
	Category  string // category_total
	Indicator string // indicator: one of the MetricasResult field keys
}
