// Package store defines the ports the analytics engines consume. The
// engines never touch a database directly; they are written against
// these interfaces and exercised against either the SQLite or the
// in-memory backend.
package store

import (
	"context"

	"github.com/IvPalmer/vault-sub000/internal/core"
)

type (
	// TransactionReader queries the normalized transaction feed.
	TransactionReader interface {
		Transaction(ctx context.Context, id int64) (core.Transaction, error)
		TransactionsByIDs(ctx context.Context, ids []int64) ([]core.Transaction, error)
		// TransactionsByMonth returns rows by natural month.
		TransactionsByMonth(ctx context.Context, m core.Month) ([]core.Transaction, error)
		// TransactionsByInvoiceMonth returns card rows billed under the
		// given statement period.
		TransactionsByInvoiceMonth(ctx context.Context, m core.Month) ([]core.Transaction, error)
		// TransactionsByCategory returns the month's rows assigned to a
		// category name.
		TransactionsByCategory(ctx context.Context, m core.Month, category string) ([]core.Transaction, error)
		// InstallmentTransactions returns every installment-flagged row.
		InstallmentTransactions(ctx context.Context) ([]core.Transaction, error)
		// CategorizedTransactions returns the learning corpus: every row
		// that already carries a category.
		CategorizedTransactions(ctx context.Context) ([]core.Transaction, error)
		// UncategorizedTransactions returns rows without a category,
		// optionally scoped to one month.
		UncategorizedTransactions(ctx context.Context, m *core.Month) ([]core.Transaction, error)
	}

	// TransactionWriter mutates the fields a transaction allows to
	// change in place.
	TransactionWriter interface {
		UpdateTransactionCategory(ctx context.Context, id int64, category, subcategory string, manual bool) error
		UpdateTransactionDescription(ctx context.Context, id int64, description string) error
	}

	// TaxonomyReader resolves categories and recurring templates.
	TaxonomyReader interface {
		Categories(ctx context.Context) ([]core.Category, error)
		CategoryByID(ctx context.Context, id int64) (core.Category, error)
		CategoryByName(ctx context.Context, name string) (core.Category, error)
		ActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error)
		TemplateByID(ctx context.Context, id int64) (core.RecurringTemplate, error)
	}

	// MappingStore persists the per-month reconciliation rows.
	MappingStore interface {
		MappingsByMonth(ctx context.Context, m core.Month) ([]core.RecurringMapping, error)
		MappingByID(ctx context.Context, id int64) (core.RecurringMapping, error)
		CreateMapping(ctx context.Context, mapping core.RecurringMapping) (int64, error)
		UpdateMapping(ctx context.Context, mapping core.RecurringMapping) error
		DeleteMapping(ctx context.Context, id int64) error
		// CrossMonthClaims returns ids of transactions whose natural
		// month is m but which are cross-linked into a mapping of some
		// other month, and so must be excluded from m's totals.
		CrossMonthClaims(ctx context.Context, m core.Month) ([]int64, error)
	}

	// ConfigReader provides per-month overrides and user metric cards.
	ConfigReader interface {
		BudgetOverrides(ctx context.Context, m core.Month) ([]core.BudgetConfig, error)
		BalanceOverride(ctx context.Context, m core.Month) (*core.BalanceOverride, error)
		MetricCards(ctx context.Context) ([]core.MetricCard, error)
	}

	// RuleStore reads and persists categorization and rename rules.
	RuleStore interface {
		Rules(ctx context.Context) ([]core.CategorizationRule, error)
		SaveRule(ctx context.Context, rule core.CategorizationRule) (int64, error)
		RenameRules(ctx context.Context) ([]core.RenameRule, error)
		SaveRenameRule(ctx context.Context, rule core.RenameRule) (int64, error)
	}
)

// Store is the full port the engines are wired against.
type Store interface {
	TransactionReader
	TransactionWriter
	TaxonomyReader
	MappingStore
	ConfigReader
	RuleStore
}
