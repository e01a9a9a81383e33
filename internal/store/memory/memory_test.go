package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

var _ store.Store = (*Store)(nil)

func mustMonth(t *testing.T, s string) core.Month {
	t.Helper()
	m, err := core.ParseMonth(s)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStore_CrossMonthClaims(t *testing.T) {
	st := New()
	ctx := context.Background()
	jan := mustMonth(t, "2026-01")
	feb := mustMonth(t, "2026-02")

	janTx := st.AddTransaction(core.Transaction{Description: "Aluguel", Amount: decimal.NewFromInt(-2000), Month: jan, Date: jan.Date(31)})
	st.AddTransaction(core.Transaction{Description: "Mercado", Amount: decimal.NewFromInt(-100), Month: feb, Date: feb.Date(2)})

	if _, err := st.CreateMapping(ctx, core.RecurringMapping{
		Month:           feb,
		Source:          core.Custom{Name: "Aluguel", Type: core.TypeFixed},
		Mode:            core.MatchManual,
		CrossMonthTxIDs: []int64{janTx},
	}); err != nil {
		t.Fatal(err)
	}

	claims, err := st.CrossMonthClaims(ctx, jan)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 || claims[0] != janTx {
		t.Errorf("claims for january = %v, want [%d]", claims, janTx)
	}

	// The claiming month itself reports nothing: its own mappings are
	// not "another month's" claims.
	claims, err = st.CrossMonthClaims(ctx, feb)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 0 {
		t.Errorf("claims for february = %v, want none", claims)
	}
}

func TestStore_DeleteMapping(t *testing.T) {
	st := New()
	ctx := context.Background()
	m := mustMonth(t, "2026-03")

	customID, err := st.CreateMapping(ctx, core.RecurringMapping{
		Month: m, Source: core.Custom{Name: "Presente", Type: core.TypeVariable}, Mode: core.MatchManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	templateID, err := st.CreateMapping(ctx, core.RecurringMapping{
		Month: m, Source: core.TemplateBacked{TemplateID: 1}, Mode: core.MatchManual,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := st.DeleteMapping(ctx, customID); err != nil {
		t.Errorf("deleting custom mapping: %v", err)
	}
	if err := st.DeleteMapping(ctx, templateID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("deleting template-backed mapping: err = %v, want ErrInvalidState", err)
	}
	if err := st.DeleteMapping(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("deleting unknown mapping: err = %v, want ErrNotFound", err)
	}
}

func TestStore_MappingReadsAreDetached(t *testing.T) {
	st := New()
	ctx := context.Background()
	m := mustMonth(t, "2026-03")

	id, err := st.CreateMapping(ctx, core.RecurringMapping{
		Month:       m,
		Source:      core.Custom{Name: "Aluguel", Type: core.TypeFixed},
		Mode:        core.MatchManual,
		LinkedTxIDs: []int64{1, 2, 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := st.MappingByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	// Compact the returned slice in place, as an unlink that later
	// fails to persist would.
	got.LinkedTxIDs = append(got.LinkedTxIDs[:0], got.LinkedTxIDs[1:]...)

	again, err := st.MappingByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.LinkedTxIDs) != 3 || again.LinkedTxIDs[0] != 1 {
		t.Errorf("stored links = %v, want [1 2 3] untouched", again.LinkedTxIDs)
	}

	byMonth, err := st.MappingsByMonth(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	byMonth[0].LinkedTxIDs[0] = 99
	again, _ = st.MappingByID(ctx, id)
	if again.LinkedTxIDs[0] != 1 {
		t.Errorf("stored first link = %d, want 1 untouched", again.LinkedTxIDs[0])
	}
}

func TestStore_UncategorizedTransactions(t *testing.T) {
	st := New()
	ctx := context.Background()
	jan := mustMonth(t, "2026-01")
	feb := mustMonth(t, "2026-02")

	a := st.AddTransaction(core.Transaction{Description: "Padaria", Amount: decimal.NewFromInt(-10), Month: jan, Date: jan.Date(3)})
	st.AddTransaction(core.Transaction{Description: "Mercado", Amount: decimal.NewFromInt(-50), Category: "Mercado", Month: jan, Date: jan.Date(4)})
	st.AddTransaction(core.Transaction{Description: "Farmacia", Amount: decimal.NewFromInt(-30), Month: feb, Date: feb.Date(5)})

	all, err := st.UncategorizedTransactions(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all uncategorized = %d rows, want 2", len(all))
	}

	onlyJan, err := st.UncategorizedTransactions(ctx, &jan)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyJan) != 1 || onlyJan[0].ID != a {
		t.Errorf("january uncategorized = %v, want only tx %d", onlyJan, a)
	}
}

func TestStore_SaveRule(t *testing.T) {
	st := New()
	ctx := context.Background()

	id, err := st.SaveRule(ctx, core.CategorizationRule{Keyword: "uber", Category: "Transporte", Priority: 2, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.SaveRule(ctx, core.CategorizationRule{Keyword: "ifood", Category: "Alimentação", Priority: 1, Active: true}); err != nil {
		t.Fatal(err)
	}

	rules, err := st.Rules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 || rules[0].Keyword != "ifood" {
		t.Errorf("rules = %+v, want ifood first by priority", rules)
	}

	// Saving with an existing id updates in place.
	if _, err := st.SaveRule(ctx, core.CategorizationRule{ID: id, Keyword: "uber trip", Category: "Transporte", Priority: 2, Active: true}); err != nil {
		t.Fatal(err)
	}
	rules, _ = st.Rules(ctx)
	if len(rules) != 2 || rules[1].Keyword != "uber trip" {
		t.Errorf("rules after update = %+v, want the uber rule rewritten", rules)
	}
}

func TestStore_BalanceOverride(t *testing.T) {
	st := New()
	ctx := context.Background()
	m := mustMonth(t, "2026-03")

	got, err := st.BalanceOverride(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("override = %+v, want nil when absent", got)
	}

	st.SetBalanceOverride(core.BalanceOverride{Month: m, Balance: decimal.NewFromInt(1500)})
	got, err = st.BalanceOverride(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("override = %+v, want 1500", got)
	}
}

func TestStore_TransactionFilters(t *testing.T) {
	st := New()
	ctx := context.Background()
	jan := mustMonth(t, "2026-01")
	feb := mustMonth(t, "2026-02")

	st.AddTransaction(core.Transaction{
		Description: "TV 1/6", InstallmentRaw: "1/6", IsInstallment: true,
		Amount: decimal.NewFromInt(-100), Month: jan, InvoiceMonth: feb, Date: jan.Date(28),
	})
	st.AddTransaction(core.Transaction{Description: "Mercado", Amount: decimal.NewFromInt(-50), Category: "Mercado", Month: jan, Date: jan.Date(4)})

	installments, err := st.InstallmentTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(installments) != 1 {
		t.Errorf("installments = %d, want 1", len(installments))
	}

	byInvoice, err := st.TransactionsByInvoiceMonth(ctx, feb)
	if err != nil {
		t.Fatal(err)
	}
	if len(byInvoice) != 1 || byInvoice[0].Description != "TV 1/6" {
		t.Errorf("by invoice month = %v, want the tv row", byInvoice)
	}

	byCat, err := st.TransactionsByCategory(ctx, jan, "mercado")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCat) != 1 {
		t.Errorf("case-insensitive category lookup returned %d rows, want 1", len(byCat))
	}
}
