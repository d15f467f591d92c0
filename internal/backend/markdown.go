package backend

import (
	"bytes"
	"context"
	"io"

	"github.com/oxtoacart/bpool"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/viewmill/viewmill/internal/errors"
)

// Markdown compiles pages with goldmark. Conversion happens once at
// compile time: markdown pages have no model inputs, so the rendered
// HTML is static until the source changes. Raw HTML is passed through
// so markup embedded in a page survives.
type Markdown struct {
	book
	md goldmark.Markdown
}

// NewMarkdown builds the goldmark engine.
func NewMarkdown(masters MasterResolver, pool *bpool.BufferPool) *Markdown {
	return &Markdown{
		book: newBook("markdown", masters, pool),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
	}
}

// CanMaster is false: markdown has no way to mark a body insertion
// point, so a markdown page can never wrap another page.
func (e *Markdown) CanMaster() bool { return false }

func (e *Markdown) Compile(name, path, source string) (Renderer, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(source), &buf); err != nil {
		return nil, &errors.CompileError{
			Page:        name,
			Path:        path,
			Engine:      e.Name(),
			Diagnostics: []errors.Diagnostic{{Path: path, Message: err.Error()}},
		}
	}
	return staticHTML(buf.String()), nil
}

// staticHTML renders pre-converted HTML, ignoring the model.
type staticHTML string

func (s staticHTML) Render(_ context.Context, w io.Writer, _ *RenderData) error {
	_, err := io.WriteString(w, string(s))
	return err
}
