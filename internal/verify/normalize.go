// Package verify grounds extracted molecules and keywords against their
// source documents and against the PubChem compound registry. Source
// grounding removes entities the article never mentions; registry
// validation removes names the registry definitively does not know.
// Both engines report identical statistics whether or not they are
// allowed to rewrite records.
package verify

import (
	"html"
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// normalizeReplacer folds Greek letters and typographic punctuation into
// the ASCII forms extraction output uses, so "α-ketoglutarate" in the XML
// matches "alpha-ketoglutarate" in the record.
var normalizeReplacer = strings.NewReplacer(
	"α", "alpha",
	"β", "beta",
	"γ", "gamma",
	"δ", "delta",
	"ε", "epsilon",
	"κ", "kappa",
	"λ", "lambda",
	"μ", "mu",
	"π", "pi",
	"σ", "sigma",
	"τ", "tau",
	"ω", "omega",
	"–", "-", // en dash
	"—", "-", // em dash
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
)

// Normalize prepares text for containment checks: HTML entities are
// unescaped (corpus XML carries &#x3b1; style escapes), the text is
// lowercased, Greek letters and typographic punctuation are folded, and
// whitespace is collapsed.
func Normalize(text string) string {
	text = html.UnescapeString(text)
	text = strings.ToLower(text)
	text = normalizeReplacer.Replace(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Document is a pre-normalized source text. Normalizing the document once
// and reusing it across hundreds of term checks is what makes a full
// corpus pass tractable.
type Document struct {
	norm    string
	compact string
}

// NewDocument normalizes a source text for repeated containment checks.
func NewDocument(text string) *Document {
	norm := Normalize(text)
	return &Document{
		norm:    norm,
		compact: strings.ReplaceAll(norm, "-", ""),
	}
}

// Contains reports whether the document supports a term. Matching is
// increasingly lenient: exact normalized substring, then hyphens treated
// as spaces, then hyphens dropped entirely on both sides, and finally,
// for multi-word terms, presence of every significant token (longer than
// three characters).
func (d *Document) Contains(term string) bool {
	if d.norm == "" {
		return false
	}
	termNorm := Normalize(term)
	if termNorm == "" {
		return false
	}

	if strings.Contains(d.norm, termNorm) {
		return true
	}

	if strings.Contains(d.norm, strings.ReplaceAll(termNorm, "-", " ")) {
		return true
	}

	termCompact := strings.ReplaceAll(termNorm, "-", "")
	if strings.Contains(d.compact, termCompact) {
		return true
	}

	if strings.ContainsAny(termNorm, " -") {
		tokens := significantTokens(termNorm)
		if len(tokens) == 0 {
			return false
		}
		for _, token := range tokens {
			if !strings.Contains(d.norm, token) {
				return false
			}
		}
		return true
	}

	return false
}

// Contains reports whether text supports term. Callers checking many
// terms against one text should use NewDocument instead.
func Contains(term, text string) bool {
	return NewDocument(text).Contains(term)
}

func significantTokens(term string) []string {
	var tokens []string
	for _, token := range strings.FieldsFunc(term, func(r rune) bool {
		return r == ' ' || r == '-'
	}) {
		if len(token) > 3 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
