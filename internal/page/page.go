// Package page defines the unit the registry manages: one source file
// bound to a compilation back-end, carrying its compiled renderer, its
// layout link, and the metadata reload decisions are made from.
package page

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viewmill/viewmill/internal/backend"
	"github.com/viewmill/viewmill/internal/errors"
	"github.com/viewmill/viewmill/internal/vfs"
)

// Kind partitions pages by where their source lives. It decides which
// registry table an entry is indexed in and how it is addressed.
type Kind int

const (
	// Content pages live outside the view root and are addressed by
	// their URL-like path.
	Content Kind = iota
	// View pages live directly under the view root and are addressed
	// by logical name.
	View
	// SharedView pages live under the shared subdirectory and serve as
	// the fallback namespace for name resolution.
	SharedView
	// Master entries are layout templates, keyed by file path because
	// many pages may nest inside one.
	Master
)

func (k Kind) String() string {
	switch k {
	case Content:
		return "content"
	case View:
		return "view"
	case SharedView:
		return "shared"
	case Master:
		return "master"
	default:
		return "unknown"
	}
}

// Opener resolves a virtual path to a file handle. *vfs.Source is the
// production implementation.
type Opener interface {
	Open(vpath string) (vfs.FileHandle, bool)
}

// compiled is the unit of publication: everything a render needs is
// swapped in as one pointer so a reader never observes a renderer from
// one compile paired with metadata from another.
type compiled struct {
	renderer   backend.Renderer
	modTime    time.Time
	masterPath string
	failed     bool
}

// Entry is one managed page. Renders read the current artifact through
// an atomic snapshot; Prepare and Reload serialize on a per-entry mutex
// so concurrent recompiles cannot interleave their writes.
type Entry struct {
	name   string
	path   string
	kind   Kind
	engine backend.Engine
	src    Opener
	tokens *strings.Replacer

	mu       sync.Mutex
	artifact atomic.Pointer[compiled]
}

// New builds an unprepared entry. Call Prepare before rendering.
func New(name, path string, kind Kind, engine backend.Engine, src Opener, tokens *strings.Replacer) *Entry {
	return &Entry{
		name:   name,
		path:   path,
		kind:   kind,
		engine: engine,
		src:    src,
		tokens: tokens,
	}
}

// NewFailed builds an entry whose renderer is a substitute standing in
// for a page that could not be prepared. The entry keeps its source
// binding, so a later reload can recover the real page once the
// underlying problem is fixed.
func NewFailed(name, path string, kind Kind, engine backend.Engine, src Opener, tokens *strings.Replacer, substitute backend.Renderer) *Entry {
	e := New(name, path, kind, engine, src, tokens)
	e.artifact.Store(&compiled{renderer: substitute, failed: true})
	return e
}

// NewStatic builds an entry around a fixed renderer with no backing
// source file, for pages the binary itself provides. Static entries
// never report as changed and never reload.
func NewStatic(name, path string, kind Kind, engine backend.Engine, renderer backend.Renderer) *Entry {
	e := New(name, path, kind, engine, nil, nil)
	e.artifact.Store(&compiled{renderer: renderer})
	return e
}

func (e *Entry) Name() string           { return e.name }
func (e *Entry) Path() string           { return e.path }
func (e *Entry) Kind() Kind             { return e.kind }
func (e *Entry) Engine() backend.Engine { return e.engine }

// Renderer returns the current compiled renderer. It satisfies
// backend.Page, so back-ends always execute whatever the latest
// successful compile installed.
func (e *Entry) Renderer() (backend.Renderer, error) {
	if a := e.artifact.Load(); a != nil {
		return a.renderer, nil
	}
	return nil, &errors.PrepareError{Page: e.name, Path: e.path, Err: errors.ErrNotPrepared}
}

// MasterPath reports the layout this page nests inside, or "" when it
// renders bare.
func (e *Entry) MasterPath() string {
	if a := e.artifact.Load(); a != nil {
		return a.masterPath
	}
	return ""
}

// LastModified is the source timestamp of the artifact currently being
// served. Zero for embedded sources and for failed substitutes.
func (e *Entry) LastModified() time.Time {
	if a := e.artifact.Load(); a != nil {
		return a.modTime
	}
	return time.Time{}
}

// Failed reports whether the entry is serving an error substitute
// instead of a real compile of its source.
func (e *Entry) Failed() bool {
	a := e.artifact.Load()
	return a != nil && a.failed
}

// Prepare compiles the entry's source and installs the result. The
// returned error is a *errors.CompileError when the back-end produced
// diagnostics, otherwise a *errors.PrepareError.
func (e *Entry) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compile()
}

// Changed reports whether the source file is newer than the artifact
// being served. A missing file or an unprepared entry reports false:
// there is nothing useful a reload could do.
func (e *Entry) Changed() bool {
	a := e.artifact.Load()
	if a == nil || e.src == nil {
		return false
	}
	h, ok := e.src.Open(e.path)
	if !ok {
		return false
	}
	return h.ModTime.After(a.modTime)
}

// Reload recompiles the entry if its source is still newer than the
// served artifact. On failure the previous artifact stays installed;
// stale output beats a broken page.
func (e *Entry) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	// A concurrent reload may have finished while this one waited.
	if !e.Changed() {
		return nil
	}
	if err := e.compile(); err != nil {
		return &errors.ReloadError{Page: e.name, Path: e.path, Err: err}
	}
	return nil
}

// compile reads, substitutes tokens, extracts the layout directive, and
// compiles. Callers hold e.mu. The artifact is only replaced on
// success, as a single snapshot.
func (e *Entry) compile() error {
	if e.src == nil {
		return &errors.PrepareError{Page: e.name, Path: e.path, Err: os.ErrNotExist}
	}
	h, ok := e.src.Open(e.path)
	if !ok {
		return &errors.PrepareError{Page: e.name, Path: e.path, Err: os.ErrNotExist}
	}
	text, err := h.ReadAllText()
	if err != nil {
		return &errors.PrepareError{Page: e.name, Path: e.path, Err: err}
	}
	if e.tokens != nil {
		text = e.tokens.Replace(text)
	}
	masterPath, body := e.engine.ExtractMaster(text)
	renderer, err := e.engine.Compile(e.name, e.path, body)
	if err != nil {
		return err
	}
	e.artifact.Store(&compiled{
		renderer:   renderer,
		modTime:    h.ModTime,
		masterPath: normalizeMasterPath(masterPath),
	})
	return nil
}

// normalizeMasterPath anchors directive paths at the source root so
// "views/shared/base.html" and "/views/shared/base.html" key the same
// template.
func normalizeMasterPath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
