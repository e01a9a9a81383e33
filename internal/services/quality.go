package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

// oversizedFactor flags amounts larger than this multiple of the
// month's median absolute amount.
const oversizedFactor = 20

// QualityIssue is one non-fatal data-quality finding.
type QualityIssue struct {
	Kind          string `json:"kind"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Detail        string `json:"detail"`
}

// QualityReport collects a month's data-quality findings. Conditions
// here are surfaced, never raised.
type QualityReport struct {
	Month           string          `json:"month"`
	Issues          []QualityIssue  `json:"issues"`
	Uncategorized   int             `json:"uncategorized"`
	MissingItems    []string        `json:"missing_recurring_items,omitempty"`
	Inconsistencies []Inconsistency `json:"inconsistencies,omitempty"`
}

// QualityService audits one month's working set.
type QualityService struct {
	store       store.Store
	recurring   *RecurringService
	categorizer *CategorizerService
}

func NewQualityService(st store.Store, recurring *RecurringService, categorizer *CategorizerService) *QualityService {
	return &QualityService{store: st, recurring: recurring, categorizer: categorizer}
}

// Audit inspects the month for zero, duplicate and oversized amounts,
// uncategorized rows, missing recurring items and categorization
// inconsistencies.
func (s *QualityService) Audit(ctx context.Context, month core.Month) (QualityReport, error) {
	report := QualityReport{Month: month.String()}

	txs, err := s.store.TransactionsByMonth(ctx, month)
	if err != nil {
		return report, fmt.Errorf("load month transactions: %w", err)
	}

	type dupKey struct {
		day     int
		account int64
		amount  string
		desc    string
	}
	seen := make(map[dupKey]int64)
	var magnitudes []decimal.Decimal
	for _, t := range txs {
		if t.Amount.IsZero() {
			report.Issues = append(report.Issues, QualityIssue{
				Kind:          "zero_amount",
				TransactionID: t.ID,
				Detail:        t.Description,
			})
		} else {
			magnitudes = append(magnitudes, t.Amount.Abs())
		}
		if t.Category == "" && !t.IsTransfer {
			report.Uncategorized++
		}
		key := dupKey{
			day:     t.Date.Day(),
			account: t.AccountID,
			amount:  t.Amount.String(),
			desc:    normalizeDescription(t.Description),
		}
		if prev, ok := seen[key]; ok {
			report.Issues = append(report.Issues, QualityIssue{
				Kind:          "duplicate",
				TransactionID: t.ID,
				Detail:        fmt.Sprintf("same day/account/amount/description as %d", prev),
			})
		} else {
			seen[key] = t.ID
		}
	}

	if median := medianAbs(magnitudes); !median.IsZero() {
		limit := median.Mul(decimal.NewFromInt(oversizedFactor))
		for _, t := range txs {
			if t.Amount.Abs().GreaterThan(limit) {
				report.Issues = append(report.Issues, QualityIssue{
					Kind:          "oversized_amount",
					TransactionID: t.ID,
					Detail:        fmt.Sprintf("%s is over %dx the month median", t.Amount.String(), oversizedFactor),
				})
			}
		}
	}

	views, err := s.recurring.RecurringData(ctx, month)
	if err != nil {
		return report, err
	}
	for _, v := range views {
		if v.Status == core.StatusFaltando {
			report.MissingItems = append(report.MissingItems, v.Name)
		}
	}

	inconsistencies, err := s.categorizer.DetectInconsistencies(ctx)
	if err != nil {
		return report, err
	}
	report.Inconsistencies = inconsistencies
	return report, nil
}

func medianAbs(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].LessThan(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[len(sorted)/2]
}
