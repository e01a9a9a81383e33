package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/IvPalmer/vault-sub000/internal/core"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

const (
	confRule          = 1.00
	confExactMatch    = 0.95
	confAmountPattern = 0.85
	confAmountFuzzy   = 0.80
	confTokensStrong  = 0.75
	confTokensWeak    = 0.70
	minConfidence     = 0.70

	// Manual categorizations outvote rule-derived ones in the corpus.
	manualWeight = 3.0
	// The winning category must hold more than half the weighted votes.
	majorityShare = 0.5
	// Amount patterns need this many historical occurrences.
	amountPatternMin = 3
	// A single dominant token must hold this share of the total score.
	dominantTokenShare = 0.6

	// Inconsistency report thresholds.
	inconsistencyMinCats  = 2
	inconsistencyMinCount = 5

	// Sibling match tolerance for rename propagation.
	renameAmountTol = 0.15
)

// CategorizerService assigns categories to uncategorized transactions
// via a prioritized confidence chain learned from the corpus of
// already-categorized rows.
type CategorizerService struct {
	store store.Store
}

func NewCategorizerService(st store.Store) *CategorizerService {
	return &CategorizerService{store: st}
}

// CategorySuggestion is one proposed (or applied) assignment.
type CategorySuggestion struct {
	TransactionID int64   `json:"transaction_id"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Subcategory   string  `json:"subcategory,omitempty"`
	Confidence    float64 `json:"confidence"`
	Strategy      string  `json:"strategy"`
	Applied       bool    `json:"applied"`
}

// CategorizeReport summarizes a smart-categorize run.
type CategorizeReport struct {
	Processed   int                  `json:"processed"`
	Categorized int                  `json:"categorized"`
	Skipped     int                  `json:"skipped"`
	Renamed     int                  `json:"renamed"`
	DryRun      bool                 `json:"dry_run"`
	Suggestions []CategorySuggestion `json:"suggestions"`
}

// catPair is a (category, subcategory) vote target.
type catPair struct {
	cat string
	sub string
}

// corpus is the learned state built once per run from every correctly
// categorized transaction.
type corpus struct {
	// normalized description -> weighted votes per (cat, sub)
	exact map[string]map[catPair]float64
	// (account, rounded abs amount) -> votes per category
	amounts map[amountKey]map[string]int
	// token -> weighted votes per category
	tokens map[string]map[string]float64
	// category name -> type, for the recurring-taxonomy guard
	catTypes map[string]core.CategoryType
}

type amountKey struct {
	account int64
	amount  string
}

func (s *CategorizerService) buildCorpus(ctx context.Context) (*corpus, error) {
	categorized, err := s.store.CategorizedTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	cats, err := s.store.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	c := &corpus{
		exact:    make(map[string]map[catPair]float64),
		amounts:  make(map[amountKey]map[string]int),
		tokens:   make(map[string]map[string]float64),
		catTypes: make(map[string]core.CategoryType, len(cats)),
	}
	for _, cat := range cats {
		c.catTypes[cat.Name] = cat.Type
	}

	for _, t := range categorized {
		if t.IsTransfer {
			continue
		}
		weight := 1.0
		if t.ManuallyCategorized {
			weight = manualWeight
		}
		pair := catPair{cat: t.Category, sub: t.Subcategory}

		if norm := normalizeDescription(t.Description); norm != "" {
			if c.exact[norm] == nil {
				c.exact[norm] = make(map[catPair]float64)
			}
			c.exact[norm][pair] += weight
		}

		key := amountKey{account: t.AccountID, amount: core.RoundedAbs(t.Amount)}
		if c.amounts[key] == nil {
			c.amounts[key] = make(map[string]int)
		}
		c.amounts[key][t.Category]++

		for _, tok := range descriptionTokens(t.Description) {
			if c.tokens[tok] == nil {
				c.tokens[tok] = make(map[string]float64)
			}
			c.tokens[tok][t.Category] += weight
		}
	}
	return c, nil
}

// learnable reports whether strategies 2-4 may assign the category.
// Fixed/Income/Investment categories come only from rules or recurring
// linkage, so learned matching cannot pollute the budget taxonomy.
func (c *corpus) learnable(category string) bool {
	typ, ok := c.catTypes[category]
	if !ok {
		// Unknown to the taxonomy: treat as a catch-all.
		return true
	}
	return !typ.IsRecurringType()
}

// SmartCategorize runs the strategy chain over the uncategorized rows
// of one month (or all months). With dryRun nothing is persisted.
func (s *CategorizerService) SmartCategorize(ctx context.Context, month *core.Month, dryRun bool) (CategorizeReport, error) {
	report := CategorizeReport{DryRun: dryRun}

	rules, err := s.store.Rules(ctx)
	if err != nil {
		return report, fmt.Errorf("load rules: %w", err)
	}
	c, err := s.buildCorpus(ctx)
	if err != nil {
		return report, err
	}
	if !dryRun {
		report.Renamed, err = s.ApplyRenameRules(ctx, month)
		if err != nil {
			return report, err
		}
	}
	pending, err := s.store.UncategorizedTransactions(ctx, month)
	if err != nil {
		return report, fmt.Errorf("load uncategorized: %w", err)
	}

	for _, t := range pending {
		report.Processed++
		suggestion := s.classifyOne(t, rules, c)
		if suggestion == nil {
			report.Skipped++
			continue
		}
		if !dryRun {
			if err := s.store.UpdateTransactionCategory(ctx, t.ID, suggestion.Category, suggestion.Subcategory, false); err != nil {
				return report, fmt.Errorf("apply category to %d: %w", t.ID, err)
			}
			suggestion.Applied = true
		}
		report.Categorized++
		report.Suggestions = append(report.Suggestions, *suggestion)
	}

	slog.InfoContext(ctx, "Smart categorize finished",
		"processed", report.Processed,
		"categorized", report.Categorized,
		"skipped", report.Skipped,
		"dry_run", dryRun)
	return report, nil
}

// classifyOne tries the strategies in fixed priority order and stops at
// the first success. Nothing below minConfidence is returned.
func (s *CategorizerService) classifyOne(t core.Transaction, rules []core.CategorizationRule, c *corpus) *CategorySuggestion {
	// 1. Rule keyword match. Rules may assign any category.
	for _, rule := range rules {
		if rule.Matches(t.Description) {
			return &CategorySuggestion{
				TransactionID: t.ID,
				Description:   t.Description,
				Category:      rule.Category,
				Subcategory:   rule.Subcategory,
				Confidence:    confRule,
				Strategy:      "rule",
			}
		}
	}

	// Personal transfers on checking accounts are low-signal; the
	// learned strategies do not apply to them.
	if t.AccountKind == core.AccountChecking && looksLikePersonalTransfer(t.Description) {
		return nil
	}

	if sug := s.matchExact(t, c); sug != nil {
		return sug
	}
	if sug := s.matchAmountPattern(t, c); sug != nil {
		return sug
	}
	return s.matchTokens(t, c)
}

// matchExact looks the normalized description up in the corpus. The
// winner needs a strict majority of the weighted votes.
func (s *CategorizerService) matchExact(t core.Transaction, c *corpus) *CategorySuggestion {
	norm := normalizeDescription(t.Description)
	votes, ok := c.exact[norm]
	if norm == "" || !ok {
		return nil
	}
	total := 0.0
	best, bestWeight := catPair{}, 0.0
	for pair, w := range votes {
		total += w
		if w > bestWeight {
			best, bestWeight = pair, w
		}
	}
	if total == 0 || bestWeight/total <= majorityShare || !c.learnable(best.cat) {
		return nil
	}
	return &CategorySuggestion{
		TransactionID: t.ID,
		Description:   t.Description,
		Category:      best.cat,
		Subcategory:   best.sub,
		Confidence:    confExactMatch,
		Strategy:      "exact_description",
	}
}

// matchAmountPattern groups history by (account, rounded amount) and
// needs at least three prior occurrences; a near-miss of one or two
// rounding units still matches at reduced confidence.
func (s *CategorizerService) matchAmountPattern(t core.Transaction, c *corpus) *CategorySuggestion {
	exact := amountKey{account: t.AccountID, amount: core.RoundedAbs(t.Amount)}
	if sug := s.amountWinner(t, c, exact, confAmountPattern); sug != nil {
		return sug
	}
	base := t.Amount.Abs().Round(0)
	for _, delta := range []int64{-2, -1, 1, 2} {
		key := amountKey{
			account: t.AccountID,
			amount:  base.Add(decimal.NewFromInt(delta)).String(),
		}
		if sug := s.amountWinner(t, c, key, confAmountFuzzy); sug != nil {
			return sug
		}
	}
	return nil
}

func (s *CategorizerService) amountWinner(t core.Transaction, c *corpus, key amountKey, confidence float64) *CategorySuggestion {
	votes, ok := c.amounts[key]
	if !ok {
		return nil
	}
	total := 0
	best, bestCount := "", 0
	for cat, n := range votes {
		total += n
		if n > bestCount {
			best, bestCount = cat, n
		}
	}
	if bestCount < amountPatternMin || float64(bestCount)/float64(total) <= majorityShare || !c.learnable(best) {
		return nil
	}
	return &CategorySuggestion{
		TransactionID: t.ID,
		Description:   t.Description,
		Category:      best,
		Confidence:    confidence,
		Strategy:      "amount_pattern",
	}
}

// matchTokens scores categories by weighted token overlap: two shared
// tokens suffice, or a single token whose category dominates the total
// score.
func (s *CategorizerService) matchTokens(t core.Transaction, c *corpus) *CategorySuggestion {
	toks := descriptionTokens(t.Description)
	if len(toks) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	shared := make(map[string]int)
	totalScore := 0.0
	for _, tok := range toks {
		for cat, w := range c.tokens[tok] {
			scores[cat] += w
			shared[cat]++
			totalScore += w
		}
	}

	best, bestScore := "", 0.0
	for cat, sc := range scores {
		if sc > bestScore {
			best, bestScore = cat, sc
		}
	}
	if best == "" || !c.learnable(best) {
		return nil
	}

	confidence := 0.0
	switch {
	case shared[best] >= 2:
		confidence = confTokensStrong
	case totalScore > 0 && bestScore/totalScore > dominantTokenShare:
		confidence = confTokensWeak
	}
	if confidence < minConfidence {
		return nil
	}
	return &CategorySuggestion{
		TransactionID: t.ID,
		Description:   t.Description,
		Category:      best,
		Confidence:    confidence,
		Strategy:      "token_similarity",
	}
}

// RuleProposal is the output of FindSimilarTransactions: a keyword rule
// derived from a manual categorization plus the rows it would cover.
type RuleProposal struct {
	Keyword     string               `json:"keyword"`
	Category    string               `json:"category"`
	Subcategory string               `json:"subcategory,omitempty"`
	Matches     []CategorySuggestion `json:"matches"`
}

// FindSimilarTransactions proposes a rule from a manually categorized
// transaction by locating uncategorized rows with the same normalized
// description.
func (s *CategorizerService) FindSimilarTransactions(ctx context.Context, txID int64) (RuleProposal, error) {
	tx, err := s.store.Transaction(ctx, txID)
	if err != nil {
		return RuleProposal{}, err
	}
	if tx.Category == "" {
		return RuleProposal{}, fmt.Errorf("transaction %d is uncategorized: %w", txID, core.ErrInvalidState)
	}
	norm := normalizeDescription(tx.Description)
	proposal := RuleProposal{Keyword: norm, Category: tx.Category, Subcategory: tx.Subcategory}

	pending, err := s.store.UncategorizedTransactions(ctx, nil)
	if err != nil {
		return proposal, fmt.Errorf("load uncategorized: %w", err)
	}
	for _, t := range pending {
		if normalizeDescription(t.Description) != norm {
			continue
		}
		proposal.Matches = append(proposal.Matches, CategorySuggestion{
			TransactionID: t.ID,
			Description:   t.Description,
			Category:      tx.Category,
			Subcategory:   tx.Subcategory,
			Confidence:    confExactMatch,
			Strategy:      "similar_description",
		})
	}
	return proposal, nil
}

// RenameTransaction applies a description correction to the row and its
// siblings (same account, amount within 15%, same original text), and
// persists a rename rule so future imports are fixed on sight.
func (s *CategorizerService) RenameTransaction(ctx context.Context, txID int64, newDescription string) (int, error) {
	if newDescription == "" {
		return 0, fmt.Errorf("rename: %w", core.ErrEmptyDescription)
	}
	tx, err := s.store.Transaction(ctx, txID)
	if err != nil {
		return 0, err
	}
	original := tx.OriginalDescription
	if original == "" {
		original = tx.Description
	}

	renamed := 0
	for _, sibling := range s.renameSiblings(ctx, tx, original) {
		if err := s.store.UpdateTransactionDescription(ctx, sibling, newDescription); err != nil {
			return renamed, fmt.Errorf("rename %d: %w", sibling, err)
		}
		renamed++
	}

	if _, err := s.store.SaveRenameRule(ctx, core.RenameRule{From: original, To: newDescription}); err != nil {
		return renamed, fmt.Errorf("save rename rule: %w", err)
	}
	slog.InfoContext(ctx, "Renamed transaction and siblings",
		"tx_id", txID, "renamed", renamed, "to", newDescription)
	return renamed, nil
}

// ApplyRenameRules rewrites uncategorized rows whose original text
// matches a persisted rename rule, so a correction made once keeps
// landing on rows that arrive later with the same raw description.
func (s *CategorizerService) ApplyRenameRules(ctx context.Context, month *core.Month) (int, error) {
	rules, err := s.store.RenameRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rename rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}
	byOriginal := make(map[string]string, len(rules))
	for _, rule := range rules {
		byOriginal[rule.From] = rule.To
	}

	pending, err := s.store.UncategorizedTransactions(ctx, month)
	if err != nil {
		return 0, fmt.Errorf("load uncategorized: %w", err)
	}
	renamed := 0
	for _, t := range pending {
		original := t.OriginalDescription
		if original == "" {
			original = t.Description
		}
		to, ok := byOriginal[original]
		if !ok || t.Description == to {
			continue
		}
		if err := s.store.UpdateTransactionDescription(ctx, t.ID, to); err != nil {
			return renamed, fmt.Errorf("rename %d: %w", t.ID, err)
		}
		renamed++
	}
	if renamed > 0 {
		slog.InfoContext(ctx, "Applied rename rules", "renamed", renamed)
	}
	return renamed, nil
}

func (s *CategorizerService) renameSiblings(ctx context.Context, tx core.Transaction, original string) []int64 {
	ids := []int64{tx.ID}
	all, err := s.store.UncategorizedTransactions(ctx, nil)
	if err != nil {
		return ids
	}
	categorized, err := s.store.CategorizedTransactions(ctx)
	if err != nil {
		return ids
	}
	for _, t := range append(all, categorized...) {
		if t.ID == tx.ID || t.AccountID != tx.AccountID {
			continue
		}
		sibOriginal := t.OriginalDescription
		if sibOriginal == "" {
			sibOriginal = t.Description
		}
		if sibOriginal != original {
			continue
		}
		if !core.WithinTolerance(t.Amount, tx.Amount, renameAmountTol) {
			continue
		}
		ids = append(ids, t.ID)
	}
	return ids
}

// Inconsistency is one normalized description seen under two or more
// categories often enough to be worth surfacing.
type Inconsistency struct {
	Description string         `json:"description"`
	Categories  map[string]int `json:"categories"`
	Occurrences int            `json:"occurrences"`
}

// DetectInconsistencies reports normalized descriptions categorized
// inconsistently (>= 2 categories, >= 5 total occurrences). Advisory
// only; nothing is mutated.
func (s *CategorizerService) DetectInconsistencies(ctx context.Context) ([]Inconsistency, error) {
	categorized, err := s.store.CategorizedTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	byDesc := make(map[string]map[string]int)
	for _, t := range categorized {
		norm := normalizeDescription(t.Description)
		if norm == "" {
			continue
		}
		if byDesc[norm] == nil {
			byDesc[norm] = make(map[string]int)
		}
		byDesc[norm][t.Category]++
	}

	var out []Inconsistency
	for desc, cats := range byDesc {
		if len(cats) < inconsistencyMinCats {
			continue
		}
		total := 0
		for _, n := range cats {
			total += n
		}
		if total < inconsistencyMinCount {
			continue
		}
		out = append(out, Inconsistency{Description: desc, Categories: cats, Occurrences: total})
	}
	return out, nil
}
