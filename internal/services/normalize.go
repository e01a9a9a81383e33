package services

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"
)

var (
	installmentMarkerRe = regexp.MustCompile(`\b\d{1,2}\s*/\s*\d{1,2}\b`)
	longNumberRe        = regexp.MustCompile(`\d{5,}`)
	trailingDigitsRe    = regexp.MustCompile(`(\s+\d{1,4})+$`)
	spacesRe            = regexp.MustCompile(`\s+`)
	alphaTokenRe        = regexp.MustCompile(`[a-zA-Zà-üÀ-Ü]{3,}`)
	digitGroupRe        = regexp.MustCompile(`\b\d{1,4}\b`)
)

// descStopwords are connective words that carry no signal when scoring
// token overlap between statement descriptions.
var descStopwords = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true,
	"com": true, "para": true, "por": true, "em": true, "the": true,
	"and": true, "ltda": true, "pagamento": true, "pgto": true,
	"compra": true, "cartao": true, "debito": true, "credito": true,
}

// normalizeDescription reduces a statement description to a comparison
// key: lowercase, installment markers and long numeric ids removed,
// trailing digit groups (dates, document numbers) stripped, whitespace
// collapsed.
func normalizeDescription(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = installmentMarkerRe.ReplaceAllString(s, " ")
	s = longNumberRe.ReplaceAllString(s, " ")
	s = trailingDigitsRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// descriptionTokens extracts the alphabetic tokens (>= 3 chars) of a
// description, minus stopwords, lowercased.
func descriptionTokens(s string) []string {
	raw := alphaTokenRe.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, tok := range raw {
		if descStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// tokenOverlap returns the fraction of a's tokens present in b, and the
// shared count. Zero tokens on either side overlap nothing.
func tokenOverlap(a, b []string) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	set := make(map[string]bool, len(b))
	for _, tok := range b {
		set[tok] = true
	}
	shared := 0
	for _, tok := range a {
		if set[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)), shared
}

// similarity scores two normalized strings in [0,1]. The concrete
// algorithm is not load-bearing; anything giving "best candidate above
// a cutoff" semantics serves.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, levenshtein.NewParams())
}

// looksLikePersonalTransfer flags short "name + digit groups" patterns
// (PIX-style transfers to people). These are low-signal and exempt from
// the learned categorization strategies on checking accounts.
func looksLikePersonalTransfer(description string) bool {
	s := strings.TrimSpace(strings.ToLower(description))
	digits := digitGroupRe.FindAllString(s, -1)
	if len(digits) < 2 {
		return false
	}
	alpha := alphaTokenRe.FindAllString(s, -1)
	return len(alpha) >= 1 && len(alpha) <= 3
}
