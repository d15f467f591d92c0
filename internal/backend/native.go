package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
	"github.com/oxtoacart/bpool"
)

// Native executes in-memory pages registered programmatically as templ
// components. It backs the packaged error pages and any pages an
// embedding application contributes directly; it has no source files
// and therefore no compiler.
type Native struct {
	book
}

// NewNative builds the native engine.
func NewNative(masters MasterResolver, pool *bpool.BufferPool) *Native {
	return &Native{book: newBook("native", masters, pool)}
}

func (e *Native) CanMaster() bool { return true }

// Compile always fails: native pages are registered, never compiled
// from source.
func (e *Native) Compile(name, path, source string) (Renderer, error) {
	return nil, fmt.Errorf("native: page %q: this engine has no compiler", name)
}

// Component adapts a templ component factory to a Renderer. The
// factory runs per render, so components can read the request-scoped
// data.
func Component(factory func(data *RenderData) templ.Component) Renderer {
	return RendererFunc(func(ctx context.Context, w io.Writer, data *RenderData) error {
		return factory(data).Render(ctx, w)
	})
}
