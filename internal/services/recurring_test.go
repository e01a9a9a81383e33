package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store/memory"
)

func month(t *testing.T, s string) core.Month {
	t.Helper()
	m, err := core.ParseMonth(s)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func viewByName(t *testing.T, views []RecurringItemView, name string) RecurringItemView {
	t.Helper()
	for _, v := range views {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("no view named %q in %v", name, views)
	return RecurringItemView{}
}

func TestRecurringService_InitializeMonth(t *testing.T) {
	st := memory.New()
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Aluguel", Type: core.TypeFixed, DefaultLimit: dec("2000"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 2, Name: "Salário", Type: core.TypeIncome, DefaultLimit: dec("8000"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 3, Name: "Antiga TV", Type: core.TypeFixed, DefaultLimit: dec("50"), Active: false})

	svc := NewRecurringService(st)
	ctx := context.Background()
	m := month(t, "2026-03")

	created, err := svc.InitializeMonth(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Errorf("first initialize created %d mappings, want 2 (inactive template skipped)", created)
	}

	// Calling again must be a no-op.
	created, err = svc.InitializeMonth(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("second initialize created %d mappings, want 0", created)
	}
}

func TestRecurringService_InitializeMonth_BudgetOverride(t *testing.T) {
	st := memory.New()
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Internet", Type: core.TypeFixed, DefaultLimit: dec("100"), Active: true})
	m := month(t, "2026-03")
	st.AddBudgetOverride(core.BudgetConfig{Month: m, TemplateID: 1, Limit: dec("150")})

	svc := NewRecurringService(st)
	if _, err := svc.InitializeMonth(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	views, err := svc.RecurringData(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Internet")
	if !v.Expected.Equal(dec("150")) {
		t.Errorf("expected = %s, want the override 150", v.Expected)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		want     core.PaymentStatus
	}{
		{name: "nothing paid", actual: "0", expected: "100", want: core.StatusFaltando},
		{name: "fully paid", actual: "100", expected: "100", want: core.StatusPago},
		{name: "paid at threshold", actual: "90", expected: "100", want: core.StatusPago},
		{name: "just under threshold", actual: "89.99", expected: "100", want: core.StatusParcial},
		{name: "overpaid", actual: "130", expected: "100", want: core.StatusPago},
		{name: "no expectation with activity", actual: "40", expected: "0", want: core.StatusPago},
		{name: "no expectation no activity", actual: "0", expected: "0", want: core.StatusPago},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(dec(tt.actual), dec(tt.expected))
			if got != tt.want {
				t.Errorf("classify(%s, %s) = %s, want %s", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestRecurringService_CategoryMode(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	st.AddCategory(core.Category{ID: 5, Name: "Streaming", Type: core.TypeFixed})
	st.AddTransaction(core.Transaction{ID: 1, Description: "Netflix", Amount: dec("-44.90"), Category: "Streaming", Month: m, Date: m.Date(5)})
	st.AddTransaction(core.Transaction{ID: 2, Description: "Spotify", Amount: dec("-21.90"), Category: "Streaming", Month: m, Date: m.Date(7)})
	st.AddTransaction(core.Transaction{ID: 3, Description: "Mercado", Amount: dec("-300"), Category: "Mercado", Month: m, Date: m.Date(8)})

	if _, err := st.CreateMapping(context.Background(), core.RecurringMapping{
		Month:      m,
		Source:     core.Custom{Name: "Assinaturas", Type: core.TypeFixed},
		Mode:       core.MatchCategory,
		CategoryID: 5,
		Expected:   dec("70"),
	}); err != nil {
		t.Fatal(err)
	}

	svc := NewRecurringService(st)
	views, err := svc.RecurringData(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Assinaturas")
	if !v.Actual.Equal(dec("66.80")) {
		t.Errorf("actual = %s, want 66.80 (only Streaming rows)", v.Actual)
	}
	if v.Status != core.StatusPago {
		t.Errorf("status = %s, want pago", v.Status)
	}
}

func TestRecurringService_IncomeUsesSignedSum(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Salário", Type: core.TypeIncome, DefaultLimit: dec("8000"), Active: true})
	txID := st.AddTransaction(core.Transaction{Description: "Pagamento empresa", Amount: dec("8000"), Month: m, Date: m.Date(5)})
	refundID := st.AddTransaction(core.Transaction{Description: "Estorno", Amount: dec("-500"), Month: m, Date: m.Date(6)})

	svc := NewRecurringService(st)
	ctx := context.Background()
	views, err := svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Salário")
	if _, err := svc.MapTransaction(ctx, v.MappingID, txID); err != nil {
		t.Fatal(err)
	}
	view, err := svc.MapTransaction(ctx, v.MappingID, refundID)
	if err != nil {
		t.Fatal(err)
	}
	if !view.Actual.Equal(dec("7500")) {
		t.Errorf("income actual = %s, want signed sum 7500", view.Actual)
	}
}

func TestRecurringService_MapTransaction_CrossMonth(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	feb := month(t, "2026-02")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Aluguel", Type: core.TypeFixed, DefaultLimit: dec("2000"), Active: true})
	// Rent for February paid early, at the end of January.
	txID := st.AddTransaction(core.Transaction{Description: "Aluguel apto", Amount: dec("-2000"), Month: jan, Date: jan.Date(31)})

	svc := NewRecurringService(st)
	ctx := context.Background()
	views, err := svc.RecurringData(ctx, feb)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Aluguel")

	view, err := svc.MapTransaction(ctx, v.MappingID, txID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != core.StatusPago {
		t.Errorf("status = %s, want pago after cross-month link", view.Status)
	}

	mapping, err := st.MappingByID(ctx, v.MappingID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mapping.CrossMonthTxIDs) != 1 || mapping.CrossMonthTxIDs[0] != txID {
		t.Errorf("cross-month ids = %v, want [%d]", mapping.CrossMonthTxIDs, txID)
	}
	if len(mapping.LinkedTxIDs) != 0 {
		t.Errorf("linked ids = %v, want empty", mapping.LinkedTxIDs)
	}

	// Linking twice must not duplicate the id.
	if _, err := svc.MapTransaction(ctx, v.MappingID, txID); err != nil {
		t.Fatal(err)
	}
	mapping, _ = st.MappingByID(ctx, v.MappingID)
	if len(mapping.CrossMonthTxIDs) != 1 {
		t.Errorf("after duplicate link, cross-month ids = %v", mapping.CrossMonthTxIDs)
	}
}

func TestRecurringService_UnmapTransaction(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Academia", Type: core.TypeFixed, DefaultLimit: dec("90"), Active: true})
	txID := st.AddTransaction(core.Transaction{Description: "Smartfit", Amount: dec("-90"), Month: m, Date: m.Date(3)})

	svc := NewRecurringService(st)
	ctx := context.Background()
	views, err := svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Academia")
	if _, err := svc.MapTransaction(ctx, v.MappingID, txID); err != nil {
		t.Fatal(err)
	}
	view, err := svc.UnmapTransaction(ctx, v.MappingID, txID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != core.StatusFaltando {
		t.Errorf("status after unlink = %s, want faltando", view.Status)
	}
	if !view.Actual.IsZero() {
		t.Errorf("actual after unlink = %s, want 0", view.Actual)
	}
}

func TestRecurringService_SetSkipped(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "IPTU", Type: core.TypeFixed, DefaultLimit: dec("300"), Active: true})

	svc := NewRecurringService(st)
	ctx := context.Background()
	views, err := svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "IPTU")

	if err := svc.SetSkipped(ctx, v.MappingID, true); err != nil {
		t.Fatal(err)
	}
	views, err = svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := viewByName(t, views, "IPTU").Status; got != core.StatusPulado {
		t.Errorf("status = %s, want pulado", got)
	}

	if err := svc.SetSkipped(ctx, v.MappingID, false); err != nil {
		t.Fatal(err)
	}
	views, err = svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := viewByName(t, views, "IPTU").Status; got != core.StatusFaltando {
		t.Errorf("status after unskip = %s, want faltando", got)
	}
}

func TestRecurringService_CustomItems(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	svc := NewRecurringService(st)
	ctx := context.Background()

	id, err := svc.AddCustomItem(ctx, m, "Presente aniversário", core.TypeVariable, dec("200"))
	if err != nil {
		t.Fatal(err)
	}
	views, err := svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	v := viewByName(t, views, "Presente aniversário")
	if !v.Custom {
		t.Error("custom item should be flagged custom")
	}

	if err := svc.RemoveCustomItem(ctx, id); err != nil {
		t.Fatal(err)
	}

	// Template-backed rows refuse deletion.
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Aluguel", Type: core.TypeFixed, DefaultLimit: dec("2000"), Active: true})
	if _, err := svc.InitializeMonth(ctx, m); err != nil {
		t.Fatal(err)
	}
	views, err = svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	tb := viewByName(t, views, "Aluguel")
	if err := svc.RemoveCustomItem(ctx, tb.MappingID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("removing template-backed mapping: err = %v, want ErrInvalidState", err)
	}
}

func TestRecurringService_Suggestions(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-03")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Netflix", Type: core.TypeFixed, DefaultLimit: dec("44.90"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 2, Name: "Condomínio", Type: core.TypeFixed, DefaultLimit: dec("850"), Active: true})
	nameTx := st.AddTransaction(core.Transaction{Description: "NETFLIX", Amount: dec("-44.90"), Month: m, Date: m.Date(10)})
	amountTx := st.AddTransaction(core.Transaction{Description: "Pagto boleto", Amount: dec("-850"), Month: m, Date: m.Date(5)})

	svc := NewRecurringService(st)
	views, err := svc.RecurringData(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}

	nf := viewByName(t, views, "Netflix")
	if nf.Suggestion == nil {
		t.Fatal("missing item should carry a suggestion")
	}
	if nf.Suggestion.TransactionID != nameTx || nf.Suggestion.Reason != "name" {
		t.Errorf("netflix suggestion = %+v, want name match on tx %d", nf.Suggestion, nameTx)
	}

	cond := viewByName(t, views, "Condomínio")
	if cond.Suggestion == nil {
		t.Fatal("condomínio should carry a suggestion")
	}
	if cond.Suggestion.TransactionID != amountTx || cond.Suggestion.Reason != "amount" {
		t.Errorf("condomínio suggestion = %+v, want amount match on tx %d", cond.Suggestion, amountTx)
	}
}

func TestRecurringService_CategorizeInstallmentSiblings(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	feb := month(t, "2026-02")
	mar := month(t, "2026-03")
	base := core.Transaction{AccountID: 1, Amount: dec("-150"), IsInstallment: true}

	row := func(m core.Month, desc, raw string) int64 {
		tx := base
		tx.Description = desc
		tx.InstallmentRaw = raw
		tx.Month = m
		tx.Date = m.Date(12)
		return st.AddTransaction(tx)
	}
	a := row(jan, "Loja Movel 1/3", "1/3")
	b := row(feb, "Loja Movel 2/3", "2/3")
	c := row(mar, "Loja Movel 3/3", "3/3")
	other := st.AddTransaction(core.Transaction{
		Description: "Outra Loja 1/2", InstallmentRaw: "1/2", AccountID: 1,
		Amount: dec("-80"), IsInstallment: true, Month: jan, Date: jan.Date(3),
	})

	svc := NewRecurringService(st)
	ctx := context.Background()
	updated, err := svc.CategorizeInstallmentSiblings(ctx, b, "Casa", "Móveis")
	if err != nil {
		t.Fatal(err)
	}
	if updated != 3 {
		t.Errorf("updated = %d, want all 3 positions", updated)
	}
	for _, id := range []int64{a, b, c} {
		tx, err := st.Transaction(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if tx.Category != "Casa" || tx.Subcategory != "Móveis" || !tx.ManuallyCategorized {
			t.Errorf("tx %d = %q/%q manual=%v, want Casa/Móveis manual", id, tx.Category, tx.Subcategory, tx.ManuallyCategorized)
		}
	}
	tx, _ := st.Transaction(ctx, other)
	if tx.Category != "" {
		t.Errorf("unrelated purchase was categorized: %q", tx.Category)
	}
}

func TestRecurringService_CategorizeInstallmentSiblings_Unparseable(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-01")
	id := st.AddTransaction(core.Transaction{
		Description: "Compra parcelada", InstallmentRaw: "parcela unica", AccountID: 1,
		Amount: dec("-90"), IsInstallment: true, Month: m, Date: m.Date(2),
	})
	svc := NewRecurringService(st)
	updated, err := svc.CategorizeInstallmentSiblings(context.Background(), id, "Compras", "")
	if err != nil {
		t.Fatal(err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want the row alone", updated)
	}
}

func TestRecurringService_AutoLink(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	feb := month(t, "2026-02")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Internet Fibra", Type: core.TypeFixed, DefaultLimit: dec("120"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 2, Name: "Netflix", Type: core.TypeFixed, DefaultLimit: dec("44.90"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 3, Name: "Aluguel", Type: core.TypeFixed, DefaultLimit: dec("2000"), Active: true})

	svc := NewRecurringService(st)
	ctx := context.Background()

	// January establishes the pattern for the fibra item.
	janTx := st.AddTransaction(core.Transaction{Description: "CLARO FIBRA RESIDENCIAL", Amount: dec("-120"), Month: jan, Date: jan.Date(10)})
	janViews, err := svc.RecurringData(ctx, jan)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MapTransaction(ctx, viewByName(t, janViews, "Internet Fibra").MappingID, janTx); err != nil {
		t.Fatal(err)
	}

	// February: one tx per strategy.
	prevTx := st.AddTransaction(core.Transaction{Description: "CLARO FIBRA RESIDENCIAL", Amount: dec("-120"), Month: feb, Date: feb.Date(10)})
	nameTx := st.AddTransaction(core.Transaction{Description: "NETFLIX.COM ASSINATURA", Amount: dec("-44.90"), Month: feb, Date: feb.Date(12)})
	amountTx := st.AddTransaction(core.Transaction{Description: "TED AGENDADA", Amount: dec("-2050"), Month: feb, Date: feb.Date(5)})

	linked, err := svc.AutoLink(ctx, feb)
	if err != nil {
		t.Fatal(err)
	}
	if linked != 3 {
		t.Errorf("linked = %d, want 3", linked)
	}

	views, err := svc.RecurringData(ctx, feb)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		item string
		tx   int64
	}{
		{item: "Internet Fibra", tx: prevTx},
		{item: "Netflix", tx: nameTx},
		{item: "Aluguel", tx: amountTx},
	}
	for _, c := range checks {
		v := viewByName(t, views, c.item)
		if len(v.LinkedTxIDs) != 1 || v.LinkedTxIDs[0] != c.tx {
			t.Errorf("%s linked to %v, want [%d]", c.item, v.LinkedTxIDs, c.tx)
		}
	}
}

func TestRecurringService_AutoLink_NeverStealsClaimed(t *testing.T) {
	st := memory.New()
	m := month(t, "2026-02")
	st.AddTemplate(core.RecurringTemplate{ID: 1, Name: "Luz", Type: core.TypeFixed, DefaultLimit: dec("200"), Active: true})
	st.AddTemplate(core.RecurringTemplate{ID: 2, Name: "Gás", Type: core.TypeFixed, DefaultLimit: dec("200"), Active: true})
	txID := st.AddTransaction(core.Transaction{Description: "Conta consumo", Amount: dec("-200"), Month: m, Date: m.Date(8)})

	svc := NewRecurringService(st)
	ctx := context.Background()
	views, err := svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MapTransaction(ctx, viewByName(t, views, "Luz").MappingID, txID); err != nil {
		t.Fatal(err)
	}

	linked, err := svc.AutoLink(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if linked != 0 {
		t.Errorf("auto-link claimed an already-linked transaction: linked = %d", linked)
	}

	views, err = svc.RecurringData(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := viewByName(t, views, "Gás").Status; got != core.StatusFaltando {
		t.Errorf("gás status = %s, want faltando", got)
	}
}
