package retrieval

import (
	"regexp"
	"strings"
)

// Intent is the coarse question type of a knowledge-base query. It steers
// answer formatting, not recall.
type Intent string

const (
	IntentFactual         Intent = "factual"
	IntentProcedural      Intent = "procedural"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentComparison      Intent = "comparison"
	IntentList            Intent = "list"
	IntentYesNo           Intent = "yes_no"
	IntentDefinition      Intent = "definition"
	IntentUnknown         Intent = "unknown"
)

// intentPatterns are checked in order; the first match wins.
var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentDefinition, regexp.MustCompile(`(?i)^\s*(what\s+is\b|define\b|meaning\s+of|what\s+does\s+.+\s+mean)`)},
	{IntentProcedural, regexp.MustCompile(`(?i)\b(how\s+(do|can|to)|steps?\s+to|guide|instructions?|set\s*up|configure|install)\b`)},
	{IntentTroubleshooting, regexp.MustCompile(`(?i)\b(error|fail(s|ed|ing)?|broken|not\s+work(s|ing)?|issue|problem|fix|troubleshoot|crash)\b`)},
	{IntentComparison, regexp.MustCompile(`(?i)\b(vs\.?|versus|compare(d)?|difference\s+between|better|which\s+(one|is))\b`)},
	{IntentList, regexp.MustCompile(`(?i)\b(list|what\s+are\s+(all|the)|which\s+\w+\s+are|options?|types?\s+of|examples?\s+of)\b`)},
	{IntentYesNo, regexp.MustCompile(`(?i)^\s*(is|are|can|could|do|does|did|will|would|should|has|have)\b`)},
	{IntentFactual, regexp.MustCompile(`(?i)^\s*(who|when|where|why|which|how\s+(much|many|long|often))\b`)},
}

// ClassifyIntent maps a query onto the closed intent set.
func ClassifyIntent(query string) Intent {
	for _, p := range intentPatterns {
		if p.re.MatchString(query) {
			return p.intent
		}
	}
	return IntentUnknown
}

// stopwords are dropped during keyword extraction. The list is small and
// question-oriented; it removes scaffolding, not meaning.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "can": {}, "could": {}, "do": {}, "does": {},
	"did": {}, "for": {}, "from": {}, "get": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "me": {}, "my": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"our": {}, "please": {}, "should": {}, "so": {}, "some": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "to": {}, "up": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// ExtractKeywords tokenises query, drops stopwords and tokens of two
// characters or fewer, and deduplicates preserving order.
func ExtractKeywords(query string) []string {
	tokens := tokenize(query)
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, tok := range tokens {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// synonyms expands common support vocabulary. One substitution per variant
// keeps the expansion close to the original query.
var synonyms = map[string][]string{
	"rotate":   {"renew", "regenerate"},
	"key":      {"token", "credential"},
	"delete":   {"remove", "cancel"},
	"broken":   {"failing", "defective"},
	"price":    {"cost", "pricing"},
	"hours":    {"schedule", "opening times"},
	"refund":   {"return", "money back"},
	"shipping": {"delivery"},
	"login":    {"sign in"},
	"upgrade":  {"update"},
}

// maxVariants bounds query expansion.
const maxVariants = 5

// ExpandQuery returns up to maxVariants rewrites of query, the original
// first, each swapping one keyword for one synonym.
func ExpandQuery(query string, keywords []string) []string {
	variants := []string{query}
	for _, kw := range keywords {
		for _, syn := range synonyms[kw] {
			if len(variants) >= maxVariants {
				return variants
			}
			v := strings.Replace(strings.ToLower(query), kw, syn, 1)
			if v != strings.ToLower(query) {
				variants = append(variants, v)
			}
		}
	}
	return variants
}

// ProcessedQuery is the query-processing stage output.
type ProcessedQuery struct {
	Raw      string
	Intent   Intent
	Keywords []string
	Variants []string
}

// SearchTerms returns the original keywords unioned with the terms the
// variants introduce, original terms first. This is how synonym expansion
// reaches recall: a document that only uses the synonym is still found by the
// keyword index and scored by BM25.
func (pq ProcessedQuery) SearchTerms() []string {
	terms := append([]string(nil), pq.Keywords...)
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t] = struct{}{}
	}
	for _, v := range pq.Variants {
		for _, t := range ExtractKeywords(v) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	return terms
}

// ProcessQuery runs intent classification, keyword extraction, and synonym
// expansion. It never fails; a degenerate query yields IntentUnknown and no
// keywords.
func ProcessQuery(query string) ProcessedQuery {
	keywords := ExtractKeywords(query)
	return ProcessedQuery{
		Raw:      query,
		Intent:   ClassifyIntent(query),
		Keywords: keywords,
		Variants: ExpandQuery(query, keywords),
	}
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits on non-alphanumerics.
func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// tokenSet returns the unique tokens of s.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}
