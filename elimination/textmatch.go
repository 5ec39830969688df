package elimination

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Bilingual keyword extraction. Reference texts and product descriptions mix
// the source language with English, so tokens are lower-cased with a
// language-aware caser chosen per token.

var (
	turkishLower = cases.Lower(language.Turkish)
	englishLower = cases.Lower(language.English)
)

var stopwords = map[string]struct{}{
	// English
	"the": {}, "of": {}, "and": {}, "or": {}, "a": {}, "an": {}, "for": {},
	"with": {}, "without": {}, "not": {}, "in": {}, "on": {}, "to": {},
	"by": {}, "at": {}, "as": {}, "is": {}, "are": {}, "be": {},
	"use": {}, "used": {}, "uses": {}, "other": {}, "others": {},
	"similar": {}, "thereof": {}, "therefor": {}, "including": {},
	"included": {}, "whether": {}, "their": {}, "such": {}, "than": {},
	"all": {}, "any": {}, "non": {}, "from": {}, "into": {},
	// Turkish
	"ve": {}, "veya": {}, "ile": {}, "için": {}, "bir": {}, "bu": {},
	"gibi": {}, "olan": {}, "olarak": {}, "diğer": {}, "dahil": {},
	"hariç": {}, "üzere": {}, "kadar": {}, "göre": {}, "ait": {},
	"her": {}, "tüm": {}, "de": {}, "da": {}, "ki": {}, "mi": {},
}

// catchAllMarkers flag residual "other / not elsewhere specified" headings
// in either language.
var catchAllMarkers = []string{
	"other", "others", "not elsewhere specified", "n.e.s",
	"diğer", "başka yerde belirtilmeyen", "tarifenin başka yerinde",
}

// principalMarkers flag headings whose applicability legally requires the
// product to be principally composed of a named material.
var principalMarkers = []string{
	"principally", "mainly", "wholly or principally",
	"esas itibariyle", "ağırlıklı olarak",
}

var materialTerms = map[string]struct{}{
	"steel": {}, "iron": {}, "metal": {}, "wood": {}, "rubber": {},
	"plastic": {}, "glass": {}, "cotton": {}, "wool": {}, "leather": {},
	"aluminium": {}, "aluminum": {}, "copper": {}, "lithium": {},
	"paper": {}, "ceramic": {}, "textile": {}, "silk": {}, "zinc": {},
	"nickel": {}, "tin": {},
	"çelik": {}, "demir": {}, "ahşap": {}, "kauçuk": {}, "plastik": {},
	"cam": {}, "pamuk": {}, "yün": {}, "deri": {}, "alüminyum": {},
	"bakır": {}, "lityum": {}, "kağıt": {}, "seramik": {}, "tekstil": {},
	"ipek": {}, "çinko": {}, "kalay": {},
}

// genericTerms carry no discriminating power between headings and are
// ignored when judging how precisely a heading names a product.
var genericTerms = map[string]struct{}{
	"article": {}, "articles": {}, "part": {}, "parts": {}, "goods": {},
	"ware": {}, "wares": {}, "product": {}, "products": {},
	"material": {}, "materials": {}, "apparatus": {}, "equipment": {},
	"eşya": {}, "mamul": {}, "mamuller": {}, "ürün": {}, "ürünler": {},
	"aksam": {}, "parça": {}, "madde": {}, "maddeler": {},
}

var turkishRunes = map[rune]struct{}{
	'ç': {}, 'ğ': {}, 'ı': {}, 'ö': {}, 'ş': {}, 'ü': {},
	'Ç': {}, 'Ğ': {}, 'İ': {}, 'Ö': {}, 'Ş': {}, 'Ü': {},
}

func lowerToken(tok string) string {
	for _, r := range tok {
		if _, ok := turkishRunes[r]; ok {
			return turkishLower.String(tok)
		}
	}
	return englishLower.String(tok)
}

// singularize trims a trailing ASCII plural "s" so "gloves" and "glove"
// compare equal. Turkish plurals are suffixed differently and left alone.
func singularize(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}

func splitWords(text string) []string {
	replacer := strings.NewReplacer("-", " ", "'", " ", "’", " ", "/", " ", ";", " ", ",", " ", ".", " ", "(", " ", ")", " ", ":", " ")
	return strings.Fields(replacer.Replace(text))
}

// keywords extracts the normalized keyword list from text: lower-case with a
// language-aware caser, strip configured single-character prefixes, drop
// stop-words and one-character fragments, dedupe, cap the token count.
func (e *Engine) keywords(text string, limit int) []string {
	out := make([]string, 0, limit)
	seen := map[string]struct{}{}
	for _, raw := range splitWords(text) {
		tok := lowerToken(raw)
		runes := []rune(tok)
		if len(runes) >= 4 {
			if _, ok := e.prefixes[runes[0]]; ok {
				tok = string(runes[1:])
			}
		}
		tok = singularize(tok)
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func overlapCount(a []string, b map[string]struct{}) int {
	n := 0
	for _, k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// overlapFraction is the shared-keyword count relative to the smaller set.
func overlapFraction(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := overlapCount(a, toSet(b))
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	return float64(n) / float64(min)
}

func isCatchAll(text string) bool {
	low := lowerText(text)
	for _, m := range catchAllMarkers {
		if containsWord(low, m) {
			return true
		}
	}
	return false
}

func hasPrincipalMarker(text string) bool {
	low := lowerText(text)
	for _, m := range principalMarkers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

func lowerText(text string) string {
	words := splitWords(text)
	for i, w := range words {
		words[i] = lowerToken(w)
	}
	return strings.Join(words, " ")
}

func containsWord(lowered, marker string) bool {
	if strings.Contains(marker, " ") {
		return strings.Contains(lowered, marker)
	}
	for _, w := range strings.Fields(lowered) {
		if w == marker {
			return true
		}
	}
	return false
}

func countMaterialTerms(keys []string) int {
	n := 0
	for _, k := range keys {
		if _, ok := materialTerms[k]; ok {
			n++
		}
	}
	return n
}

// specificity rewards headings naming concrete materials and penalizes
// residual catch-all text.
func specificity(headingText string, keys []string) float64 {
	s := 0.5
	hits := countMaterialTerms(keys)
	if hits > 2 {
		hits = 2
	}
	s += 0.15 * float64(hits)
	if isCatchAll(headingText) {
		s -= 0.4
	}
	if s < 0.05 {
		s = 0.05
	}
	if s > 1 {
		s = 1
	}
	return s
}

// attributeMatch checks declared material/form/use terms against the heading
// keywords. With nothing declared the component is neutral.
func (e *Engine) attributeMatch(p ProductInfo, headingKeys map[string]struct{}) float64 {
	declared := 0
	matched := 0
	for _, attr := range []string{p.Material, p.Form, p.IntendedUse} {
		if strings.TrimSpace(attr) == "" {
			continue
		}
		declared++
		if overlapCount(e.keywords(attr, e.cfg.ProductTokenCap), headingKeys) > 0 {
			matched++
		}
	}
	if declared == 0 {
		return 0.5
	}
	return float64(matched) / float64(declared)
}

// productKeywords merges both description languages into one capped set.
func (e *Engine) productKeywords(p ProductInfo) []string {
	text := strings.TrimSpace(p.Description + " " + p.DescriptionEN)
	return e.keywords(text, e.cfg.ProductTokenCap)
}
