// Package articles loads JATS XML article files from an on-disk corpus and
// stores the per-article analysis records the pipeline produces.
package articles

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// Sections holds the text sections extracted from a JATS article.
type Sections struct {
	Title    string
	Abstract string
	Body     string
}

// CombinedText returns the stage input format: title, abstract and body
// joined with section markers.
func (s Sections) CombinedText() string {
	return "Title: " + s.Title + "\n\nAbstract: " + s.Abstract + "\n\n" + s.Body
}

// SearchText returns all extracted text joined for verification lookups.
func (s Sections) SearchText() string {
	return s.Title + " " + s.Abstract + " " + s.Body
}

// ParseArticleXML extracts the title, abstract and body text from a JATS XML
// document. Character data under every <article-title>, <abstract> and <body>
// element is collected in document order, including text nested in child
// elements, then whitespace-collapsed.
//
// Malformed XML degrades rather than fails: whatever was collected before the
// parse error is returned. Articles with too little usable body text are
// filtered by the caller, not here.
func ParseArticleXML(r io.Reader) Sections {
	dec := xml.NewDecoder(r)
	// Corpus files occasionally declare ISO-8859-1; treat everything as-is.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var (
		titleParts, abstractParts, bodyParts []string
		titleDepth, abstractDepth, bodyDepth int
	)

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "article-title":
				titleDepth++
			case "abstract":
				abstractDepth++
			case "body":
				bodyDepth++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "article-title":
				if titleDepth > 0 {
					titleDepth--
				}
			case "abstract":
				if abstractDepth > 0 {
					abstractDepth--
				}
			case "body":
				if bodyDepth > 0 {
					bodyDepth--
				}
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			// A title inside an abstract section belongs to the abstract.
			switch {
			case titleDepth > 0 && abstractDepth == 0 && bodyDepth == 0:
				titleParts = append(titleParts, text)
			case abstractDepth > 0:
				abstractParts = append(abstractParts, text)
			case bodyDepth > 0:
				bodyParts = append(bodyParts, text)
			}
		}
	}

	return Sections{
		Title:    domain.NormalizeWhitespace(strings.Join(titleParts, " ")),
		Abstract: domain.NormalizeWhitespace(strings.Join(abstractParts, " ")),
		Body:     domain.NormalizeWhitespace(strings.Join(bodyParts, " ")),
	}
}

// ParseAllText extracts every text node from an XML document, in document
// order. Verification grounds terms against the whole document, references
// included, so a molecule named only in a cited title still counts as
// mentioned.
func ParseAllText(r io.Reader) string {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var parts []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			if text := strings.TrimSpace(string(cd)); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return domain.NormalizeWhitespace(strings.Join(parts, " "))
}
