// Package backend defines the compilation back-end contract and the
// engines that implement it. One engine instance serves one source
// extension; it compiles template text into renderers, indexes the
// registered pages it owns, and executes them with optional master
// wrapping.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/oxtoacart/bpool"
)

// RenderData is the value handed to every renderer. Pages read Model;
// master templates additionally read Body, the already-rendered page
// they wrap.
type RenderData struct {
	Model   interface{}
	Body    template.HTML
	Request *http.Request
}

// Renderer is a compiled template artifact.
type Renderer interface {
	Render(ctx context.Context, w io.Writer, data *RenderData) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, w io.Writer, data *RenderData) error

func (f RendererFunc) Render(ctx context.Context, w io.Writer, data *RenderData) error {
	return f(ctx, w, data)
}

// Page is the engine-side view of a registered page: a handle that
// yields the current compiled renderer. Hot reload swaps the artifact
// behind this handle, so engines never cache the renderer themselves.
type Page interface {
	Renderer() (Renderer, error)
}

// MasterResolver resolves a master-template path to its registered
// page. Implemented by the registry; injected so a page compiled by
// one engine can nest inside a master compiled by another.
type MasterResolver interface {
	Master(path string) (Page, bool)
}

// Scope carries the per-request execution inputs.
type Scope struct {
	Context context.Context
	Model   interface{}
	Request *http.Request

	// Partial switches execution to partial mode: the renderer writes
	// into Out and no Output is returned.
	Partial bool
	Out     io.Writer
}

func (s *Scope) ctx() context.Context {
	if s.Context != nil {
		return s.Context
	}
	return context.Background()
}

// Output is produced text backed by a pooled buffer. Close returns the
// buffer to its pool; callers must close exactly once, after they are
// done with Bytes or String.
type Output struct {
	buf     *bytes.Buffer
	release func()
}

// Bytes exposes the underlying buffer bytes. Valid until Close.
func (o *Output) Bytes() []byte { return o.buf.Bytes() }

// String copies the produced text out of the buffer.
func (o *Output) String() string { return o.buf.String() }

// Close releases the pooled buffer. Safe to call more than once.
func (o *Output) Close() error {
	if o.release != nil {
		o.release()
		o.release = nil
	}
	return nil
}

// Engine is one compilation back-end.
type Engine interface {
	// Name identifies the engine kind ("gotmpl", "scriggo", ...).
	Name() string

	// CanMaster reports whether pages compiled by this engine can act
	// as master templates.
	CanMaster() bool

	// ExtractMaster pulls the master-template directive out of a
	// source, returning the declared path ("" if none) and the source
	// with the directive removed.
	ExtractMaster(source string) (masterPath, body string)

	// Compile turns source text into a renderer or fails with a
	// diagnostics-bearing error.
	Compile(name, path, source string) (Renderer, error)

	// RegisterPage indexes a page under its path and logical name so
	// it is executable before, during and after compilation. Empty
	// path or name skips that index.
	RegisterPage(path, name string, page Page)

	// Forget removes a page from the engine's indexes.
	Forget(path, name string)

	ContainsPagePath(path string) bool
	ContainsPageName(name string) bool

	// Execute renders the page registered under name (or path) with
	// the scope's model, wrapped by the master at masterPath when one
	// is given. The returned Output owns a pooled buffer the caller
	// must close. In partial mode Output is nil.
	Execute(scope *Scope, name, masterPath string) (*Output, error)
}

// directiveRe matches the master-template directive in any engine's
// source: <!--layout:/views/shared/layout.gohtml-->
var directiveRe = regexp.MustCompile(`<!--\s*layout:\s*([^\s>]+)\s*-->(?:\r?\n)?`)

// extractMaster is the shared directive scan used by every engine.
func extractMaster(source string) (string, string) {
	loc := directiveRe.FindStringSubmatchIndex(source)
	if loc == nil {
		return "", source
	}
	master := source[loc[2]:loc[3]]
	return master, source[:loc[0]] + source[loc[1]:]
}

// book is the page index embedded in every engine. Keys fold case:
// logical names and virtual paths are both case-insensitive.
type book struct {
	name    string
	mu      sync.RWMutex
	paths   map[string]Page
	names   map[string]Page
	masters MasterResolver
	pool    *bpool.BufferPool
}

func newBook(name string, masters MasterResolver, pool *bpool.BufferPool) book {
	return book{
		name:    name,
		paths:   make(map[string]Page),
		names:   make(map[string]Page),
		masters: masters,
		pool:    pool,
	}
}

func (b *book) Name() string { return b.name }

func (b *book) ExtractMaster(source string) (string, string) {
	return extractMaster(source)
}

func (b *book) RegisterPage(path, name string, page Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if path != "" {
		b.paths[strings.ToLower(path)] = page
	}
	if name != "" {
		b.names[strings.ToLower(name)] = page
	}
}

func (b *book) Forget(path, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.paths, strings.ToLower(path))
	delete(b.names, strings.ToLower(name))
}

func (b *book) ContainsPagePath(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.paths[strings.ToLower(path)]
	return ok
}

func (b *book) ContainsPageName(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.names[strings.ToLower(name)]
	return ok
}

// lookup finds a page by logical name first, then by path, mirroring
// the executor's probing order.
func (b *book) lookup(nameOrPath string) (Page, bool) {
	key := strings.ToLower(nameOrPath)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.names[key]; ok {
		return p, true
	}
	p, ok := b.paths[key]
	return p, ok
}

// Execute implements the shared execution path: render the page body,
// then wrap it with the master when one is given and resolvable. A
// master that cannot be resolved or rendered does not fail the page;
// the body ships unwrapped.
func (b *book) Execute(scope *Scope, name, masterPath string) (*Output, error) {
	page, ok := b.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s: page %q is not registered", b.name, name)
	}
	renderer, err := page.Renderer()
	if err != nil {
		return nil, fmt.Errorf("%s: page %q: %w", b.name, name, err)
	}

	data := &RenderData{Model: scope.Model, Request: scope.Request}

	if scope.Partial {
		return nil, renderer.Render(scope.ctx(), scope.Out, data)
	}

	buf := b.pool.Get()
	if err := renderer.Render(scope.ctx(), buf, data); err != nil {
		b.pool.Put(buf)
		return nil, err
	}

	if masterPath != "" && b.masters != nil {
		if out, ok := b.wrap(scope, buf, masterPath); ok {
			b.pool.Put(buf)
			return out, nil
		}
	}

	return &Output{buf: buf, release: func() { b.pool.Put(buf) }}, nil
}

// wrap renders the master template around an already-rendered body.
func (b *book) wrap(scope *Scope, body *bytes.Buffer, masterPath string) (*Output, bool) {
	master, ok := b.masters.Master(masterPath)
	if !ok {
		return nil, false
	}
	renderer, err := master.Renderer()
	if err != nil {
		return nil, false
	}

	data := &RenderData{
		Model:   scope.Model,
		Body:    template.HTML(body.String()),
		Request: scope.Request,
	}

	buf := b.pool.Get()
	if err := renderer.Render(scope.ctx(), buf, data); err != nil {
		b.pool.Put(buf)
		return nil, false
	}
	return &Output{buf: buf, release: func() { b.pool.Put(buf) }}, true
}
