package services

import (
	"context"
	"testing"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store/memory"
)

func addInstallment(st *memory.Store, m core.Month, desc, raw, amount string, account int64) int64 {
	return st.AddTransaction(core.Transaction{
		Description:    desc,
		InstallmentRaw: raw,
		AccountID:      account,
		Amount:         dec(amount),
		IsInstallment:  true,
		InvoiceMonth:   m,
		Month:          m,
		Date:           m.Date(15),
	})
}

func TestInstallmentService_Dedupe(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	// A statement listing every remaining position of one purchase.
	addInstallment(st, jan, "Cafe Gourmet 01/03", "01/03", "-30", 1)
	addInstallment(st, jan, "Cafe Gourmet 02/03", "02/03", "-30", 1)
	addInstallment(st, jan, "Cafe Gourmet 03/03", "03/03", "-30", 1)
	// A second, unrelated purchase on the same statement.
	addInstallment(st, jan, "Fone BT 2/5", "2/5", "-80", 1)

	svc := NewInstallmentService(st)
	total, projected, err := svc.MonthTotal(context.Background(), jan)
	if err != nil {
		t.Fatal(err)
	}
	if projected {
		t.Error("month with real statement rows should not be projected")
	}
	if !total.Equal(dec("110")) {
		t.Errorf("total = %s, want 110 (30 once + 80)", total)
	}
}

func TestInstallmentService_DedupeKeepsDistinctIdentities(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	// Same base and position but different accounts: two purchases.
	addInstallment(st, jan, "Livraria 1/2", "1/2", "-50", 1)
	addInstallment(st, jan, "Livraria 1/2", "1/2", "-50", 2)
	// Same base and account but different amount: also distinct.
	addInstallment(st, jan, "Livraria 1/2", "1/2", "-120", 1)

	svc := NewInstallmentService(st)
	total, _, err := svc.MonthTotal(context.Background(), jan)
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(dec("220")) {
		t.Errorf("total = %s, want 220", total)
	}
}

func TestInstallmentService_UnparseableRowsStayInTotals(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	addInstallment(st, jan, "Compra estranha", "", "-45", 1)
	addInstallment(st, jan, "Notebook 1/10", "1/10", "-400", 1)

	svc := NewInstallmentService(st)
	total, _, err := svc.MonthTotal(context.Background(), jan)
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(dec("445")) {
		t.Errorf("total = %s, want 445", total)
	}

	// The unparseable row must not be projected into later months.
	feb := month(t, "2026-02")
	total, projected, err := svc.MonthTotal(context.Background(), feb)
	if err != nil {
		t.Fatal(err)
	}
	if !projected {
		t.Error("february has no statement and should be projected")
	}
	if !total.Equal(dec("400")) {
		t.Errorf("projected total = %s, want 400 (notebook only)", total)
	}
}

func TestInstallmentService_Schedule(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	// TV at position 2 of 6 in January: real charge in January, then
	// projected for February through May, nothing from June on.
	addInstallment(st, jan, "TV 55 2/6", "2/6", "-100", 1)

	svc := NewInstallmentService(st)
	schedule, err := svc.Schedule(context.Background(), jan, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(schedule) != 7 {
		t.Fatalf("schedule length = %d, want 7", len(schedule))
	}

	wants := []struct {
		month     string
		total     string
		projected bool
	}{
		{month: "2026-01", total: "100", projected: false},
		{month: "2026-02", total: "100", projected: true},
		{month: "2026-03", total: "100", projected: true},
		{month: "2026-04", total: "100", projected: true},
		{month: "2026-05", total: "100", projected: true},
		{month: "2026-06", total: "0", projected: true},
		{month: "2026-07", total: "0", projected: true},
	}
	for i, want := range wants {
		got := schedule[i]
		if got.Month != want.month || !got.Total.Equal(dec(want.total)) || got.Projected != want.projected {
			t.Errorf("schedule[%d] = %+v, want %+v", i, got, want)
		}
	}
}

func TestInstallmentService_ProjectionPrefersLatestStatement(t *testing.T) {
	st := memory.New()
	jan := month(t, "2026-01")
	feb := month(t, "2026-02")
	// The same purchase appears on two statements; the February one is
	// the most recent and must win when projecting March.
	addInstallment(st, jan, "Sofa 1/4", "1/4", "-250", 1)
	addInstallment(st, feb, "Sofa 2/4", "2/4", "-250", 1)

	svc := NewInstallmentService(st)
	mar := month(t, "2026-03")
	total, projected, err := svc.MonthTotal(context.Background(), mar)
	if err != nil {
		t.Fatal(err)
	}
	if !projected {
		t.Error("march should be projected")
	}
	if !total.Equal(dec("250")) {
		t.Errorf("march total = %s, want 250 counted once", total)
	}
}

func TestInstallmentService_LastInstallmentMonth(t *testing.T) {
	st := memory.New()
	svc := NewInstallmentService(st)
	ctx := context.Background()

	last, err := svc.LastInstallmentMonth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("empty store: last = %v, want zero", last)
	}

	jan := month(t, "2026-01")
	addInstallment(st, jan, "TV 55 2/6", "2/6", "-100", 1)
	addInstallment(st, jan, "Fone BT 4/5", "4/5", "-80", 1)

	last, err = svc.LastInstallmentMonth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.String() != "2026-05" {
		t.Errorf("last = %s, want 2026-05 (tv has 4 charges left)", last)
	}
}
