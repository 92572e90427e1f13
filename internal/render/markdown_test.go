package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldmark_HTML(t *testing.T) {
	md := NewGoldmark()

	out, err := md.HTML("**Bonjour** et bienvenue")
	require.NoError(t, err)
	assert.Equal(t, "<p><strong>Bonjour</strong> et bienvenue</p>\n", out)

	out, err = md.HTML("ligne 1\nligne 2")
	require.NoError(t, err)
	assert.Contains(t, out, "<br")

	out, err = md.HTML("~~barré~~")
	require.NoError(t, err)
	assert.Contains(t, out, "<del>barré</del>")
}

func TestGoldmark_HTMLOmitsRawHTML(t *testing.T) {
	out, err := NewGoldmark().HTML("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestGoldmark_Plain(t *testing.T) {
	md := NewGoldmark()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"emphasis", "**Bonjour** _monde_", "Bonjour monde"},
		{"link", "Voir [le site](https://example.fr).", "Voir le site."},
		{"autolink", "Voir https://example.fr", "Voir https://example.fr"},
		{"list", "- un\n- deux", "- un\n- deux"},
		{"paragraphs", "premier\n\nsecond", "premier\n\nsecond"},
		{"heading", "# Titre\ntexte", "Titre\n\ntexte"},
		{"code", "```\nx := 1\n```", "x := 1"},
		{"raw html", "a <b>b</b>", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, md.Plain(tt.src))
		})
	}
}
