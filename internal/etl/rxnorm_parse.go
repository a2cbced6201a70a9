package etl

import (
	"regexp"
	"strings"
)

// strengthPattern matches a strength/units span in a composite drug string:
// a number, a unit, and an optional rate suffix ("325 MG", "0.5 ML",
// "1 UNT/ML").
var strengthPattern = regexp.MustCompile(`(\d*)(\d*\.)?\d+ (MG|UNT|ML)?(/(ML|HR|MG))?`)

// stripStrength removes every strength/units span from term.
func stripStrength(term string) string {
	return strengthPattern.ReplaceAllString(term, "")
}

// lastBracketed returns the contents of the last "[...]" span in term. When
// no opening bracket exists the whole term is returned, matching the
// original flat-split behavior.
func lastBracketed(term string) string {
	s := term
	if i := strings.LastIndex(term, "["); i >= 0 {
		s = term[i+1:]
	}
	if j := strings.Index(s, "]"); j >= 0 {
		s = s[:j]
	}
	return s
}

// parseSBDC parses a semantic branded drug component string — one or more
// ingredients plus strength plus a bracketed brand ("Aspirin 325 MG
// [Bufferin]"). The strength span is stripped, the last bracket group is the
// brand, and the residue splits on "/" into ingredient names. Only the last
// bracket group is treated as the brand; everything else is ingredient text.
func parseSBDC(term string) (brand string, ingredients []string) {
	stripped := stripStrength(term)
	brand = lastBracketed(term)
	ingredientText := strings.ReplaceAll(stripped, "["+brand+"]", "")
	for _, part := range strings.Split(ingredientText, "/") {
		if p := strings.TrimSpace(part); p != "" {
			ingredients = append(ingredients, p)
		}
	}
	return brand, ingredients
}

// parseSBDF parses a semantic branded drug form string — ingredient plus
// strength plus dose form plus a bracketed brand ("Aspirin 325 MG Oral
// Tablet [Bufferin]"). The first matching drug form phrase is stripped to
// recover the bare ingredient name; ok is false when no known form matches.
func parseSBDF(term string, drugForms []string) (ingredient, brand string, ok bool) {
	stripped := stripStrength(term)
	brand = lastBracketed(term)
	ingredientForm := strings.ReplaceAll(stripped, "["+brand+"]", "")
	for _, df := range drugForms {
		if strings.Contains(ingredientForm, df) {
			ingredient = strings.TrimSpace(strings.ReplaceAll(ingredientForm, df, ""))
			return ingredient, brand, true
		}
	}
	return "", "", false
}
