// ABOUTME: Markdown collaborator used to display bot text
// ABOUTME: goldmark with GFM renders HTML; an AST walk produces plain terminal text

// Package render converts bot message markdown for display.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// Markdown renders message text.
type Markdown interface {
	HTML(src string) (string, error)
	Plain(src string) string
}

// Goldmark is the default Markdown implementation. Raw HTML in the source
// is omitted from the output.
type Goldmark struct {
	md goldmark.Markdown
}

// NewGoldmark creates a renderer with GitHub flavored markdown and hard
// line wraps, since chat text uses single newlines as line breaks.
func NewGoldmark() *Goldmark {
	return &Goldmark{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// HTML converts src to an HTML fragment.
func (g *Goldmark) HTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Plain strips markup from src, keeping list bullets and paragraph breaks.
func (g *Goldmark) Plain(src string) string {
	source := []byte(src)
	doc := g.md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	newline := func() {
		if s := b.String(); s != "" && s[len(s)-1] != '\n' {
			b.WriteByte('\n')
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(n.Segment.Value(source))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(n.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				newline()
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				newline()
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				newline()
				b.WriteString("- ")
			} else {
				newline()
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				newline()
				if n.NextSibling() != nil && n.Parent() == doc {
					b.WriteByte('\n')
				}
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n != doc {
				newline()
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}
