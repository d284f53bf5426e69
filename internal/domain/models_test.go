// Package domain provides domain models and business logic for the Molecule Discovery Service.
package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase conversion",
			input:    "Nitrate",
			expected: "nitrate",
		},
		{
			name:     "trim leading whitespace",
			input:    "  fumarate",
			expected: "fumarate",
		},
		{
			name:     "trim trailing whitespace",
			input:    "nitrate ",
			expected: "nitrate",
		},
		{
			name:     "trim both ends",
			input:    "  malate  ",
			expected: "malate",
		},
		{
			name:     "collapse multiple spaces",
			input:    "condensed   tannins",
			expected: "condensed tannins",
		},
		{
			name:     "collapse tabs",
			input:    "allyl\t\tisothiocyanate",
			expected: "allyl isothiocyanate",
		},
		{
			name:     "collapse newlines",
			input:    "garlic\n\noil",
			expected: "garlic oil",
		},
		{
			name:     "mixed whitespace",
			input:    "  3-Nitrooxypropanol \t  analog  \n  ",
			expected: "3-nitrooxypropanol analog",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   \t\n  ",
			expected: "",
		},
		{
			name:     "already normalized",
			input:    "bromoform",
			expected: "bromoform",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNewMolecule(t *testing.T) {
	m := NewMolecule("  Alpha-Ketoglutarate ")

	require.NotNil(t, m)
	assert.NotEqual(t, "", m.ID.String())
	assert.Equal(t, "  Alpha-Ketoglutarate ", m.Name)
	assert.Equal(t, "alpha-ketoglutarate", m.NormalizedName)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestMolecule_SameAs(t *testing.T) {
	tests := []struct {
		name string
		a    *Molecule
		b    *Molecule
		want bool
	}{
		{
			name: "same normalized name",
			a:    NewMolecule("Nitrate"),
			b:    NewMolecule("nitrate "),
			want: true,
		},
		{
			name: "different names, same CAS",
			a:    &Molecule{NormalizedName: "3-nop", CASNumber: "100502-66-7"},
			b:    &Molecule{NormalizedName: "3-nitrooxypropanol", CASNumber: "100502-66-7"},
			want: true,
		},
		{
			name: "different molecules",
			a:    NewMolecule("nitrate"),
			b:    NewMolecule("fumarate"),
			want: false,
		},
		{
			name: "empty CAS numbers never match on CAS",
			a:    &Molecule{NormalizedName: "a", CASNumber: ""},
			b:    &Molecule{NormalizedName: "b", CASNumber: ""},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.SameAs(tt.b))
		})
	}
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusQueued.IsTerminal())
	assert.False(t, RunStatusProcessing.IsTerminal())
	assert.True(t, RunStatusComplete.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}

func TestRunStatus_IsActive(t *testing.T) {
	assert.True(t, RunStatusQueued.IsActive())
	assert.True(t, RunStatusProcessing.IsActive())
	assert.False(t, RunStatusComplete.IsActive())
	assert.False(t, RunStatusFailed.IsActive())
}

func TestNewResearchRun(t *testing.T) {
	run := NewResearchRun("methane inhibitors in ruminants")

	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, "methane inhibitors in ruminants", run.Query)
	assert.Nil(t, run.CompletedAt)
	assert.Empty(t, run.ErrorMessage)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-0.2))
	assert.Equal(t, 1.0, ClampScore(1.7))
	assert.Equal(t, 0.85, ClampScore(0.85))
}

func TestDomainErrors(t *testing.T) {
	t.Run("not found wraps sentinel", func(t *testing.T) {
		err := NewNotFoundError("molecule", "abc")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.Contains(t, err.Error(), "molecule not found")
	})

	t.Run("already exists wraps sentinel", func(t *testing.T) {
		err := NewAlreadyExistsError("research run", "xyz")
		assert.True(t, errors.Is(err, ErrAlreadyExists))
	})

	t.Run("rate limit wraps sentinel", func(t *testing.T) {
		err := NewRateLimitError("pubchem", 0)
		assert.True(t, errors.Is(err, ErrRateLimited))
	})

	t.Run("external api error unwraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewExternalAPIError("pubmed", 502, "bad gateway", cause)
		assert.True(t, errors.Is(err, cause))
		assert.Contains(t, err.Error(), "status 502")
	})
}

func TestPaper_FullText(t *testing.T) {
	p := &Paper{Title: "A title", Abstract: "An abstract."}
	assert.Equal(t, "A title\n\nAn abstract.", p.FullText())

	p2 := &Paper{Title: "Only title"}
	assert.Equal(t, "Only title", p2.FullText())
}
