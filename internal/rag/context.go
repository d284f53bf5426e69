// Package rag provides similarity retrieval and context-grounded chat answer
// generation over the discovered papers and molecules.
//
// Retrieval embeds the user's question, searches the qdrant collections for
// the nearest paper summaries and molecules, and hydrates the hits from
// PostgreSQL. When the embedding service is unavailable the chat degrades to
// an answer without retrieved context rather than failing.
package rag

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RetrievedPaper is a paper summary retrieved via similarity search.
type RetrievedPaper struct {
	ID         uuid.UUID
	Title      string
	Summary    string
	SourceURL  string
	Similarity float32
}

// RetrievedMolecule is a molecule retrieved via similarity search.
type RetrievedMolecule struct {
	ID          uuid.UUID
	Name        string
	Description string
	Similarity  float32
}

// Context holds the material retrieved for answer generation.
type Context struct {
	Papers    []RetrievedPaper
	Molecules []RetrievedMolecule
}

// IsEmpty reports whether no context was retrieved.
func (c *Context) IsEmpty() bool {
	return len(c.Papers) == 0 && len(c.Molecules) == 0
}

// PromptContext formats the retrieved context for inclusion in the LLM prompt.
func (c *Context) PromptContext() string {
	var sections []string

	if len(c.Papers) > 0 {
		sections = append(sections, "## Relevant Papers\n")
		for i, paper := range c.Papers {
			sections = append(sections, fmt.Sprintf(
				"### Paper %d: %s\nSimilarity: %.2f\nSummary: %s\n",
				i+1, paper.Title, paper.Similarity, paper.Summary))
		}
	}

	if len(c.Molecules) > 0 {
		sections = append(sections, "## Relevant Molecules\n")
		for i, mol := range c.Molecules {
			desc := mol.Description
			if desc == "" {
				desc = "No description available"
			}
			sections = append(sections, fmt.Sprintf(
				"### Molecule %d: %s\nSimilarity: %.2f\nDescription: %s\n",
				i+1, mol.Name, mol.Similarity, desc))
		}
	}

	if len(sections) == 0 {
		return "No relevant context found in the database."
	}

	return strings.Join(sections, "\n")
}
