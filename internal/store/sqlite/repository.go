// Package sqlite is the durable store backend. It mirrors the memory
// backend behind the same port, with commit observers notified after
// each write.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

type Repository struct {
	db *sql.DB

	obsMu     sync.Mutex
	observers []store.Observer
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// OnCommit registers an observer invoked after each committed write.
func (r *Repository) OnCommit(obs store.Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, obs)
}

func (r *Repository) notify(event store.Event) {
	r.obsMu.Lock()
	observers := append([]store.Observer(nil), r.observers...)
	r.obsMu.Unlock()
	for _, obs := range observers {
		obs(event)
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

const txColumns = `id, date, description, original_description, amount,
	account_id, account_name, account_kind, category, subcategory,
	is_installment, installment_raw, is_transfer, invoice_month,
	invoice_close_day, month, manually_categorized`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t            core.Transaction
		date         string
		amount       string
		invoiceMonth string
		month        string
	)
	err := row.Scan(&t.ID, &date, &t.Description, &t.OriginalDescription,
		&amount, &t.AccountID, &t.Account, &t.AccountKind, &t.Category,
		&t.Subcategory, &t.IsInstallment, &t.InstallmentRaw, &t.IsTransfer,
		&invoiceMonth, &t.InvoiceCloseDay, &month, &t.ManuallyCategorized)
	if err != nil {
		return t, err
	}
	t.Amount, _ = decimal.NewFromString(amount)
	if m, err := core.ParseMonth(month); err == nil {
		t.Month = m
	}
	if invoiceMonth != "" {
		if m, err := core.ParseMonth(invoiceMonth); err == nil {
			t.InvoiceMonth = m
		}
	}
	if parsed, perr := parseDate(date); perr == nil {
		t.Date = parsed
	}
	return t, nil
}

func (r *Repository) queryTransactions(ctx context.Context, where string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+txColumns+" FROM transactions "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionReader

func (r *Repository) Transaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *Repository) TransactionsByIDs(ctx context.Context, ids []int64) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryTransactions(ctx, "WHERE id IN ("+placeholders+") ORDER BY id", args...)
}

func (r *Repository) TransactionsByMonth(ctx context.Context, m core.Month) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "WHERE month = ? ORDER BY id", m.String())
}

func (r *Repository) TransactionsByInvoiceMonth(ctx context.Context, m core.Month) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "WHERE invoice_month = ? ORDER BY id", m.String())
}

func (r *Repository) TransactionsByCategory(ctx context.Context, m core.Month, category string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx,
		"WHERE month = ? AND category = ? COLLATE NOCASE ORDER BY id", m.String(), category)
}

func (r *Repository) InstallmentTransactions(ctx context.Context) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "WHERE is_installment = 1 ORDER BY id")
}

func (r *Repository) CategorizedTransactions(ctx context.Context) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "WHERE category != '' ORDER BY id")
}

func (r *Repository) UncategorizedTransactions(ctx context.Context, m *core.Month) ([]core.Transaction, error) {
	if m == nil {
		return r.queryTransactions(ctx, "WHERE category = '' ORDER BY id")
	}
	return r.queryTransactions(ctx, "WHERE category = '' AND month = ? ORDER BY id", m.String())
}

// TransactionWriter

func (r *Repository) UpdateTransactionCategory(ctx context.Context, id int64, category, subcategory string, manual bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET category = ?, subcategory = ?, manually_categorized = ? WHERE id = ?",
		category, subcategory, manual, id)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	r.notify(store.NewEvent("transaction.categorized", id))
	return nil
}

func (r *Repository) UpdateTransactionDescription(ctx context.Context, id int64, description string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET description = ? WHERE id = ?", description, id)
	if err != nil {
		return fmt.Errorf("update description: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	r.notify(store.NewEvent("transaction.renamed", id))
	return nil
}

// TaxonomyReader

func (r *Repository) Categories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, type, default_limit, due_day FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()
	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCategory(row interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	var limit string
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &limit, &c.DueDay); err != nil {
		return c, fmt.Errorf("scan category: %w", err)
	}
	c.DefaultLimit, _ = decimal.NewFromString(limit)
	return c, nil
}

func (r *Repository) CategoryByID(ctx context.Context, id int64) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, type, default_limit, due_day FROM categories WHERE id = ?", id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return c, err
}

func (r *Repository) CategoryByName(ctx context.Context, name string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, type, default_limit, due_day FROM categories WHERE name = ? COLLATE NOCASE", name)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
	}
	return c, err
}

func (r *Repository) ActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, type, default_limit, due_day, active FROM recurring_templates WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row interface{ Scan(...any) error }) (core.RecurringTemplate, error) {
	var t core.RecurringTemplate
	var limit string
	if err := row.Scan(&t.ID, &t.Name, &t.Type, &limit, &t.DueDay, &t.Active); err != nil {
		return t, fmt.Errorf("scan template: %w", err)
	}
	t.DefaultLimit, _ = decimal.NewFromString(limit)
	return t, nil
}

func (r *Repository) TemplateByID(ctx context.Context, id int64) (core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, type, default_limit, due_day, active FROM recurring_templates WHERE id = ?", id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("template %d: %w", id, core.ErrNotFound)
	}
	return t, err
}

// MappingStore

func (r *Repository) MappingsByMonth(ctx context.Context, m core.Month) ([]core.RecurringMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, month, template_id, custom_name, custom_type, mode,
		        category_id, legacy_link_id, skipped, expected
		 FROM recurring_mappings WHERE month = ? ORDER BY id`, m.String())
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()
	var out []core.RecurringMapping
	for rows.Next() {
		mp, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadLinks(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanMapping(row interface{ Scan(...any) error }) (core.RecurringMapping, error) {
	var (
		mp         core.RecurringMapping
		month      string
		templateID sql.NullInt64
		customName string
		customType string
		expected   string
	)
	err := row.Scan(&mp.ID, &month, &templateID, &customName, &customType,
		&mp.Mode, &mp.CategoryID, &mp.LegacyLinkID, &mp.Skipped, &expected)
	if err != nil {
		return mp, fmt.Errorf("scan mapping: %w", err)
	}
	if m, err := core.ParseMonth(month); err == nil {
		mp.Month = m
	}
	if templateID.Valid {
		mp.Source = core.TemplateBacked{TemplateID: templateID.Int64}
	} else {
		mp.Source = core.Custom{Name: customName, Type: core.CategoryType(customType)}
	}
	mp.Expected, _ = decimal.NewFromString(expected)
	return mp, nil
}

func (r *Repository) loadLinks(ctx context.Context, mp *core.RecurringMapping) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT tx_id, cross_month FROM mapping_links WHERE mapping_id = ? ORDER BY tx_id", mp.ID)
	if err != nil {
		return fmt.Errorf("query mapping links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var txID int64
		var cross bool
		if err := rows.Scan(&txID, &cross); err != nil {
			return fmt.Errorf("scan mapping link: %w", err)
		}
		if cross {
			mp.CrossMonthTxIDs = append(mp.CrossMonthTxIDs, txID)
		} else {
			mp.LinkedTxIDs = append(mp.LinkedTxIDs, txID)
		}
	}
	return rows.Err()
}

func (r *Repository) MappingByID(ctx context.Context, id int64) (core.RecurringMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, month, template_id, custom_name, custom_type, mode,
		        category_id, legacy_link_id, skipped, expected
		 FROM recurring_mappings WHERE id = ?`, id)
	mp, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mp, fmt.Errorf("mapping %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return mp, err
	}
	if err := r.loadLinks(ctx, &mp); err != nil {
		return mp, err
	}
	return mp, nil
}

func mappingColumns(mp core.RecurringMapping) (templateID sql.NullInt64, customName, customType string) {
	switch src := mp.Source.(type) {
	case core.TemplateBacked:
		templateID = sql.NullInt64{Int64: src.TemplateID, Valid: true}
	case core.Custom:
		customName, customType = src.Name, string(src.Type)
	}
	return
}

func (r *Repository) CreateMapping(ctx context.Context, mp core.RecurringMapping) (int64, error) {
	if err := mp.Validate(); err != nil {
		return 0, err
	}
	templateID, customName, customType := mappingColumns(mp)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO recurring_mappings
		   (month, template_id, custom_name, custom_type, mode, category_id, legacy_link_id, skipped, expected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mp.Month.String(), templateID, customName, customType, mp.Mode,
		mp.CategoryID, mp.LegacyLinkID, mp.Skipped, mp.Expected.String())
	if err != nil {
		return 0, fmt.Errorf("insert mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mapping id: %w", err)
	}
	r.notify(store.NewEvent("mapping.created", id))
	return id, nil
}

func (r *Repository) UpdateMapping(ctx context.Context, mp core.RecurringMapping) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	templateID, customName, customType := mappingColumns(mp)
	res, err := tx.ExecContext(ctx,
		`UPDATE recurring_mappings SET month = ?, template_id = ?, custom_name = ?,
		        custom_type = ?, mode = ?, category_id = ?, legacy_link_id = ?,
		        skipped = ?, expected = ?
		 WHERE id = ?`,
		mp.Month.String(), templateID, customName, customType, mp.Mode,
		mp.CategoryID, mp.LegacyLinkID, mp.Skipped, mp.Expected.String(), mp.ID)
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mapping %d: %w", mp.ID, core.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM mapping_links WHERE mapping_id = ?", mp.ID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	insert := func(ids []int64, cross bool) error {
		for _, txID := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO mapping_links (mapping_id, tx_id, cross_month) VALUES (?, ?, ?)",
				mp.ID, txID, cross); err != nil {
				return fmt.Errorf("insert link: %w", err)
			}
		}
		return nil
	}
	if err := insert(mp.LinkedTxIDs, false); err != nil {
		return err
	}
	if err := insert(mp.CrossMonthTxIDs, true); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.notify(store.NewEvent("mapping.updated", mp.ID))
	return nil
}

func (r *Repository) DeleteMapping(ctx context.Context, id int64) error {
	mp, err := r.MappingByID(ctx, id)
	if err != nil {
		return err
	}
	if !mp.IsCustom() {
		return fmt.Errorf("mapping %d is template-backed: %w", id, core.ErrInvalidState)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM recurring_mappings WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	r.notify(store.NewEvent("mapping.deleted", id))
	return nil
}

func (r *Repository) CrossMonthClaims(ctx context.Context, m core.Month) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT l.tx_id
		 FROM mapping_links l
		 JOIN recurring_mappings rm ON rm.id = l.mapping_id
		 JOIN transactions t ON t.id = l.tx_id
		 WHERE l.cross_month = 1 AND rm.month != ? AND t.month = ?`,
		m.String(), m.String())
	if err != nil {
		return nil, fmt.Errorf("query cross-month claims: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ConfigReader

func (r *Repository) BudgetOverrides(ctx context.Context, m core.Month) ([]core.BudgetConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, month, template_id, category_id, limit_amount FROM budget_configs WHERE month = ?",
		m.String())
	if err != nil {
		return nil, fmt.Errorf("query budget overrides: %w", err)
	}
	defer rows.Close()
	var out []core.BudgetConfig
	for rows.Next() {
		var b core.BudgetConfig
		var month, limit string
		if err := rows.Scan(&b.ID, &month, &b.TemplateID, &b.CategoryID, &limit); err != nil {
			return nil, fmt.Errorf("scan budget override: %w", err)
		}
		if mm, err := core.ParseMonth(month); err == nil {
			b.Month = mm
		}
		b.Limit, _ = decimal.NewFromString(limit)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) BalanceOverride(ctx context.Context, m core.Month) (*core.BalanceOverride, error) {
	var balance string
	err := r.db.QueryRowContext(ctx,
		"SELECT balance FROM balance_overrides WHERE month = ?", m.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance override: %w", err)
	}
	b := &core.BalanceOverride{Month: m}
	b.Balance, _ = decimal.NewFromString(balance)
	return b, nil
}

func (r *Repository) MetricCards(ctx context.Context) ([]core.MetricCard, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, kind, category, indicator FROM metric_cards ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query metric cards: %w", err)
	}
	defer rows.Close()
	var out []core.MetricCard
	for rows.Next() {
		var c core.MetricCard
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.Category, &c.Indicator); err != nil {
			return nil, fmt.Errorf("scan metric card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RuleStore

func (r *Repository) Rules(ctx context.Context) ([]core.CategorizationRule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, keyword, category, subcategory, priority, active FROM categorization_rules ORDER BY priority, id")
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	var out []core.CategorizationRule
	for rows.Next() {
		var rule core.CategorizationRule
		if err := rows.Scan(&rule.ID, &rule.Keyword, &rule.Category,
			&rule.Subcategory, &rule.Priority, &rule.Active); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) SaveRule(ctx context.Context, rule core.CategorizationRule) (int64, error) {
	if rule.ID != 0 {
		_, err := r.db.ExecContext(ctx,
			"UPDATE categorization_rules SET keyword = ?, category = ?, subcategory = ?, priority = ?, active = ? WHERE id = ?",
			rule.Keyword, rule.Category, rule.Subcategory, rule.Priority, rule.Active, rule.ID)
		if err != nil {
			return 0, fmt.Errorf("update rule: %w", err)
		}
		r.notify(store.NewEvent("rule.updated", rule.ID))
		return rule.ID, nil
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO categorization_rules (keyword, category, subcategory, priority, active) VALUES (?, ?, ?, ?, ?)",
		rule.Keyword, rule.Category, rule.Subcategory, rule.Priority, rule.Active)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rule id: %w", err)
	}
	r.notify(store.NewEvent("rule.created", id))
	return id, nil
}

func (r *Repository) RenameRules(ctx context.Context) ([]core.RenameRule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, from_description, to_description FROM rename_rules ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query rename rules: %w", err)
	}
	defer rows.Close()
	var out []core.RenameRule
	for rows.Next() {
		var rule core.RenameRule
		if err := rows.Scan(&rule.ID, &rule.From, &rule.To); err != nil {
			return nil, fmt.Errorf("scan rename rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *Repository) SaveRenameRule(ctx context.Context, rule core.RenameRule) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO rename_rules (from_description, to_description) VALUES (?, ?)",
		rule.From, rule.To)
	if err != nil {
		return 0, fmt.Errorf("insert rename rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rename rule id: %w", err)
	}
	slog.InfoContext(ctx, "Rename rule saved", "from", rule.From, "to", rule.To)
	r.notify(store.NewEvent("rename_rule.created", id))
	return id, nil
}
