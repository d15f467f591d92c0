// Package executor is the render entry point: it resolves a requested
// name to a back-end by probing, triggers the stale check, executes the
// page with optional master wrapping, and applies byte-level output
// fixups.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"

	"github.com/viewmill/viewmill/internal/backend"
	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/errors"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/page"
	"github.com/viewmill/viewmill/internal/registry"
)

// Executor renders pages out of a registry.
type Executor struct {
	reg *registry.Registry
	log logging.Logger
	bom bool
}

// New builds an executor. The BOM shim setting is resolved once here:
// "auto" enables it only on Windows, where the default text encoding of
// editors prepends the marker.
func New(reg *registry.Registry, cfg *config.Config, log logging.Logger) *Executor {
	if log == nil {
		log = logging.Discard()
	}
	bom := false
	switch cfg.Render.BOMShim {
	case "on":
		bom = true
	case "off":
		bom = false
	default:
		bom = runtime.GOOS == "windows"
	}
	return &Executor{
		reg: reg,
		log: log.WithComponent("executor"),
		bom: bom,
	}
}

// Option adjusts one render request.
type Option func(*request)

type request struct {
	bare bool
	http *http.Request
}

// Bare suppresses master wrapping for this render even when the page
// declares a layout.
func Bare() Option {
	return func(r *request) { r.bare = true }
}

// WithRequest exposes the HTTP request to the rendering templates.
func WithRequest(hr *http.Request) Option {
	return func(r *request) { r.http = hr }
}

// Render resolves name to a back-end and executes it with the model.
// The returned Output must be closed by the caller once its bytes have
// been consumed; the buffer behind it is pooled.
func (x *Executor) Render(ctx context.Context, name string, model interface{}, opts ...Option) (*backend.Output, error) {
	var rq request
	for _, opt := range opts {
		opt(&rq)
	}

	entry := x.lookup(ctx, name)
	if entry != nil {
		x.reg.CheckAndReload(ctx, entry)
	}

	engine := x.probe(name)
	if engine == nil {
		return nil, fmt.Errorf("render %q: %w", name, errors.ErrNoEngine)
	}

	masterPath := ""
	if entry != nil && !rq.bare {
		masterPath = entry.MasterPath()
	}

	scope := &backend.Scope{Context: ctx, Model: model, Request: rq.http}
	out, err := engine.Execute(scope, name, masterPath)
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", name, err)
	}

	if x.bom {
		neutralizeBOM(out.Bytes())
	}
	return out, nil
}

// RenderPartial executes the page straight into w: no master wrapping,
// no buffering, no byte fixups.
func (x *Executor) RenderPartial(ctx context.Context, w io.Writer, name string, model interface{}, opts ...Option) error {
	var rq request
	for _, opt := range opts {
		opt(&rq)
	}

	entry := x.lookup(ctx, name)
	if entry != nil {
		x.reg.CheckAndReload(ctx, entry)
	}

	engine := x.probe(name)
	if engine == nil {
		return fmt.Errorf("render partial %q: %w", name, errors.ErrNoEngine)
	}

	scope := &backend.Scope{
		Context: ctx,
		Model:   model,
		Request: rq.http,
		Partial: true,
		Out:     w,
	}
	_, err := engine.Execute(scope, name, "")
	if err != nil {
		return fmt.Errorf("render partial %q: %w", name, err)
	}
	return nil
}

// lookup finds the registry entry behind a requested name, so the stale
// check and the master association can run before execution. The name
// may be a logical page name, a source file path, or a content path.
func (x *Executor) lookup(ctx context.Context, name string) *page.Entry {
	if e, ok := x.reg.Resolve(name); ok {
		return e
	}
	if e, ok := x.reg.ResolvePath(name); ok {
		return e
	}
	if e, ok := x.reg.ResolveContent(ctx, name); ok {
		return e
	}
	return nil
}

// probe selects the back-end for a name: every engine is asked about
// the path form first, then every engine about the logical name.
func (x *Executor) probe(name string) backend.Engine {
	engines := x.reg.Engines().Ordered
	for _, e := range engines {
		if e.ContainsPagePath(name) {
			return e
		}
	}
	for _, e := range engines {
		if e.ContainsPageName(name) {
			return e
		}
	}
	return nil
}

var bomBytes = []byte{0xEF, 0xBB, 0xBF}

// neutralizeBOM overwrites every UTF-8 byte-order marker in the buffer
// with spaces, in place. Wrapping can land a page's marker anywhere in
// the final output, so all occurrences are treated, not just a leading
// one.
func neutralizeBOM(b []byte) {
	for i := 0; i+2 < len(b); {
		j := bytes.Index(b[i:], bomBytes)
		if j < 0 {
			return
		}
		k := i + j
		b[k], b[k+1], b[k+2] = ' ', ' ', ' '
		i = k + 3
	}
}
