// Package registry owns the page tables. It discovers template sources,
// classifies them into page kinds, drives compilation through the
// back-ends, and resolves render requests to entries, including the
// view-to-shared fallback and lazy reload of stale pages.
package registry

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/a-h/templ"

	"github.com/viewmill/viewmill/internal/assets"
	"github.com/viewmill/viewmill/internal/backend"
	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/errors"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/page"
	"github.com/viewmill/viewmill/internal/vfs"
	"github.com/viewmill/viewmill/internal/version"
)

// Registry holds the four page tables and coordinates discovery,
// resolution and reload. Table reads are concurrent; mutation is
// guarded by one RWMutex, while recompiles serialize per entry inside
// page.Entry.
type Registry struct {
	src     *vfs.Source
	engines *backend.Set
	log     logging.Logger
	tokens  *strings.Replacer

	watchWanted bool

	mu       sync.RWMutex
	views    map[string]*page.Entry
	shared   map[string]*page.Entry
	content  map[string]*page.Entry
	masters  map[string]*page.Entry
	watching bool

	problems *errors.Collector
}

// New wires a registry over a source tree. The engine set is built here
// so every engine shares this registry as its master resolver.
func New(src *vfs.Source, cfg *config.Config, log logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.Discard()
	}
	r := &Registry{
		src:         src,
		log:         log.WithComponent("registry"),
		tokens:      buildReplacer(cfg.Tokens),
		watchWanted: cfg.Watch,
		views:       make(map[string]*page.Entry),
		shared:      make(map[string]*page.Entry),
		content:     make(map[string]*page.Entry),
		masters:     make(map[string]*page.Entry),
		problems:    errors.NewCollector(),
	}
	set, err := backend.NewSet(cfg.Engines, cfg.Imports, r)
	if err != nil {
		return nil, err
	}
	r.engines = set
	return r, nil
}

// Engines exposes the back-end set, in probing order.
func (r *Registry) Engines() *backend.Set { return r.engines }

// Watching reports whether stale checks run before renders. True only
// when watching is configured and discovery saw at least one page that
// lives on disk; a tree served purely from the embedded source has
// nothing that can change.
func (r *Registry) Watching() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.watching
}

// Discover walks the source tree, registers every template file with a
// mapped extension, and installs the built-in pages. Compile failures
// are collected, logged and skipped; a duplicate page name aborts,
// because it would make resolution ambiguous for the whole process
// lifetime.
func (r *Registry) Discover(ctx context.Context) error {
	osFiles := 0
	for _, ext := range r.engines.Extensions() {
		handles, err := r.src.ListFiles(ext)
		if err != nil {
			return err
		}
		for _, h := range handles {
			if !h.Embedded {
				osFiles++
			}
			if err := r.addDiscovered(ctx, h); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	r.watching = r.watchWanted && osFiles > 0
	watching := r.watching
	views, shared, content, masters := len(r.views), len(r.shared), len(r.content), len(r.masters)
	r.mu.Unlock()

	if r.watchWanted && !watching {
		r.log.Info(ctx, "watch disabled: no pages on disk")
	}

	r.addBuiltins(ctx)

	r.log.Info(ctx, "discovery complete",
		"views", views,
		"shared", shared,
		"content", content,
		"masters", masters,
		"watching", watching,
	)
	return nil
}

// addDiscovered turns one discovered file into a registered page.
func (r *Registry) addDiscovered(ctx context.Context, h vfs.FileHandle) error {
	engine, ok := r.engines.ForExt(path.Ext(h.VirtualPath))
	if !ok {
		return nil
	}

	kind := r.kindFor(h.VirtualPath)
	name := h.Name
	if kind == page.Content {
		name = contentName(h.VirtualPath)
	}

	return r.AddPage(ctx, page.New(name, h.VirtualPath, kind, engine, r.src, r.tokens))
}

// AddPage prepares and indexes one entry.
//
// The entry is pre-declared with its engine before compiling, so pages
// are addressable while compilation is still in flight. A failure with
// compiler diagnostics removes the page entirely: it is logged,
// collected, and the name resolves to nothing until a later discovery
// or reload. Any other preparation failure keeps the name resolvable by
// installing an error-substitute entry in its place.
func (r *Registry) AddPage(ctx context.Context, e *page.Entry) error {
	engine := e.Engine()
	engine.RegisterPage(e.Path(), e.Name(), e)

	entry := e
	if err := e.Prepare(); err != nil {
		r.problems.AddError(err)
		if ce, ok := errors.AsCompileError(err); ok {
			r.log.Warn(ctx, err, "page skipped: compile diagnostics",
				"page", e.Name(), "path", e.Path(), "diagnostics", len(ce.Diagnostics))
			engine.Forget(e.Path(), e.Name())
			return nil
		}
		r.log.Error(ctx, err, "page preparation failed, serving error page",
			"page", e.Name(), "path", e.Path())
		entry = r.substitute(e, err)
		engine.RegisterPage(entry.Path(), entry.Name(), entry)
	}

	if err := r.insert(entry); err != nil {
		engine.Forget(entry.Path(), entry.Name())
		return err
	}

	if mp := entry.MasterPath(); mp != "" {
		r.ensureMaster(ctx, mp)
	}
	return nil
}

// substitute builds the stand-in entry for a page whose preparation
// failed without diagnostics. It stays bound to the same source file,
// so fixing the file recovers the real page on the next stale check.
func (r *Registry) substitute(e *page.Entry, cause error) *page.Entry {
	renderer := backend.Component(func(*backend.RenderData) templ.Component {
		return assets.ErrorPage(e.Name(), e.Path(), cause)
	})
	return page.NewFailed(e.Name(), e.Path(), e.Kind(), e.Engine(), r.src, r.tokens, renderer)
}

// AddTemplate registers the master template at the given path. Master
// templates are keyed by file path because many pages share one.
// Failures are logged and reported as absent rather than returned: a
// page whose master cannot compile still renders, just unwrapped.
func (r *Registry) AddTemplate(ctx context.Context, vpath string) (*page.Entry, bool) {
	vpath = rootedPath(vpath)

	engine, ok := r.engines.ForExt(path.Ext(vpath))
	if !ok {
		r.log.Warn(ctx, nil, "master template has no mapped engine", "path", vpath)
		return nil, false
	}
	if !engine.CanMaster() {
		r.log.Warn(ctx, nil, "engine cannot serve master templates",
			"path", vpath, "engine", engine.Name())
		return nil, false
	}

	e := page.New(baseName(vpath), vpath, page.Master, engine, r.src, r.tokens)
	if err := e.Prepare(); err != nil {
		r.problems.AddError(err)
		r.log.Warn(ctx, err, "master template failed to prepare", "path", vpath)
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(vpath)
	if existing, ok := r.masters[key]; ok {
		return existing, true
	}
	r.masters[key] = e
	return e, true
}

// ensureMaster registers the referenced master template on first sight.
func (r *Registry) ensureMaster(ctx context.Context, vpath string) {
	if _, ok := r.masterEntry(vpath); ok {
		return
	}
	r.AddTemplate(ctx, vpath)
}

// Master implements backend.MasterResolver.
func (r *Registry) Master(vpath string) (backend.Page, bool) {
	e, ok := r.masterEntry(vpath)
	if !ok {
		return nil, false
	}
	return e, true
}

func (r *Registry) masterEntry(vpath string) (*page.Entry, bool) {
	key := strings.ToLower(rootedPath(vpath))
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.masters[key]
	return e, ok
}

// Resolve finds a page by logical name: view pages first, shared pages
// as the fallback namespace.
func (r *Registry) Resolve(name string) (*page.Entry, bool) {
	key := strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.views[key]; ok {
		return e, true
	}
	if e, ok := r.shared[key]; ok {
		return e, true
	}
	return nil, false
}

// ResolvePath finds a page by its source file path, across the
// name-keyed tables. Master templates are not scanned; a master's file
// always has a page twin in one of the other tables.
func (r *Registry) ResolvePath(vpath string) (*page.Entry, bool) {
	key := strings.ToLower(rootedPath(vpath))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range []map[string]*page.Entry{r.views, r.shared, r.content} {
		for _, e := range t {
			if strings.ToLower(e.Path()) == key {
				return e, true
			}
		}
	}
	return nil, false
}

// ResolveContent finds a content page by request path: the exact path,
// then its directory index, then the packaged source, whose pages are
// indexed on first request.
func (r *Registry) ResolveContent(ctx context.Context, reqPath string) (*page.Entry, bool) {
	key := contentName(reqPath)

	r.mu.RLock()
	e, ok := r.content[strings.ToLower(key)]
	if !ok {
		e, ok = r.content[strings.ToLower(key)+"/index"]
	}
	r.mu.RUnlock()
	if ok {
		return e, true
	}

	return r.resolveEmbedded(ctx, key)
}

// resolveEmbedded probes the packaged source for a content page that
// discovery did not enumerate, and registers it on first hit.
func (r *Registry) resolveEmbedded(ctx context.Context, key string) (*page.Entry, bool) {
	h, engine, ok := r.probeEmbedded(key)
	if !ok {
		return nil, false
	}

	e := page.New(contentName(h.VirtualPath), h.VirtualPath, page.Content, engine, r.src, r.tokens)
	if err := r.AddPage(ctx, e); err != nil {
		if !errors.IsDuplicate(err) {
			r.log.Error(ctx, err, "embedded page registration failed", "path", h.VirtualPath)
			return nil, false
		}
		// Lost a registration race. The winner's entry serves; put it
		// back in its engine's index, which the losing AddPage cleared.
		r.mu.RLock()
		winner, found := r.content[strings.ToLower(contentName(h.VirtualPath))]
		r.mu.RUnlock()
		if found {
			winner.Engine().RegisterPage(winner.Path(), winner.Name(), winner)
		}
		return winner, found
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok = r.content[strings.ToLower(contentName(h.VirtualPath))]
	return e, ok
}

// probeEmbedded stats candidate files in the packaged source: the path
// itself and its directory index, across every mapped extension.
func (r *Registry) probeEmbedded(key string) (vfs.FileHandle, backend.Engine, bool) {
	bases := []string{key}
	if key != "" {
		bases = append(bases, key+"/index")
	} else {
		bases = []string{"/index"}
	}

	for _, base := range bases {
		name := strings.TrimPrefix(base, "/")
		for _, ext := range r.engines.Extensions() {
			for _, candidate := range []string{name + "." + ext, strings.ToLower(name) + "." + ext} {
				if h, ok := r.src.OpenEmbedded(candidate); ok {
					engine, found := r.engines.ForExt(ext)
					if !found {
						continue
					}
					return h, engine, true
				}
			}
		}
	}
	return vfs.FileHandle{}, nil, false
}

// CheckAndReload recompiles the entry if its source changed since the
// served artifact was built, then applies the same check to the master
// template it nests inside: an untouched page whose layout changed must
// still pick the new layout up. Failed reloads keep the previous
// artifact serving.
func (r *Registry) CheckAndReload(ctx context.Context, e *page.Entry) {
	if !r.Watching() || e == nil {
		return
	}

	r.reloadIfChanged(ctx, e)

	if mp := e.MasterPath(); mp != "" {
		r.ensureMaster(ctx, mp)
		if m, ok := r.masterEntry(mp); ok {
			r.reloadIfChanged(ctx, m)
		}
	}
}

func (r *Registry) reloadIfChanged(ctx context.Context, e *page.Entry) {
	if !e.Changed() {
		return
	}
	if err := e.Reload(); err != nil {
		r.problems.AddError(err)
		r.log.Warn(ctx, err, "reload failed, serving previous version",
			"page", e.Name(), "path", e.Path())
		return
	}
	r.log.Debug(ctx, "page reloaded", "page", e.Name(), "path", e.Path())
}

// Pages snapshots every registered entry, masters included, ordered by
// kind and name.
func (r *Registry) Pages() []*page.Entry {
	r.mu.RLock()
	entries := make([]*page.Entry, 0, len(r.views)+len(r.shared)+len(r.content)+len(r.masters))
	for _, t := range []map[string]*page.Entry{r.views, r.shared, r.content, r.masters} {
		for _, e := range t {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind() != entries[j].Kind() {
			return entries[i].Kind() < entries[j].Kind()
		}
		return entries[i].Name() < entries[j].Name()
	})
	return entries
}

// Diagnostics returns the compiler diagnostics collected so far.
func (r *Registry) Diagnostics() []errors.Diagnostic { return r.problems.Diagnostics() }

// Errors returns every preparation and reload failure collected so far.
func (r *Registry) Errors() []error { return r.problems.Errors() }

// addBuiltins installs the pages the binary provides. A project page
// under the same key wins; built-ins never shadow user content.
func (r *Registry) addBuiltins(ctx context.Context) {
	const statusPath = "/viewmill"

	r.mu.RLock()
	_, taken := r.content[statusPath]
	r.mu.RUnlock()
	if taken {
		r.log.Debug(ctx, "status page shadowed by project page", "path", statusPath)
		return
	}

	renderer := backend.Component(func(*backend.RenderData) templ.Component {
		return assets.StatusPage(version.GetVersion(), r.Watching(), r.statusRows())
	})
	e := page.NewStatic(statusPath, statusPath, page.Content, r.engines.Native, renderer)
	if err := r.insert(e); err != nil {
		r.log.Debug(ctx, "status page shadowed by project page", "path", statusPath)
		return
	}
	r.engines.Native.RegisterPage(statusPath, statusPath, e)
}

func (r *Registry) statusRows() []assets.StatusRow {
	entries := r.Pages()
	rows := make([]assets.StatusRow, 0, len(entries))
	for _, e := range entries {
		modified := ""
		if mt := e.LastModified(); !mt.IsZero() {
			modified = mt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, assets.StatusRow{
			Name:     e.Name(),
			Kind:     e.Kind().String(),
			Engine:   e.Engine().Name(),
			Path:     e.Path(),
			Modified: modified,
			Failed:   e.Failed(),
		})
	}
	return rows
}

// insert places an entry in the table its kind selects. Duplicate keys
// are an error; resolution must never depend on discovery order.
func (r *Registry) insert(e *page.Entry) error {
	table, key := r.tableFor(e)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := table[key]; exists {
		return &errors.DuplicateError{Name: e.Name(), Kind: e.Kind().String()}
	}
	table[key] = e
	return nil
}

func (r *Registry) tableFor(e *page.Entry) (map[string]*page.Entry, string) {
	switch e.Kind() {
	case page.View:
		return r.views, strings.ToLower(e.Name())
	case page.SharedView:
		return r.shared, strings.ToLower(e.Name())
	case page.Master:
		return r.masters, strings.ToLower(e.Path())
	default:
		return r.content, strings.ToLower(e.Name())
	}
}

func (r *Registry) kindFor(vpath string) page.Kind {
	switch {
	case r.src.IsSharedPath(vpath):
		return page.SharedView
	case r.src.IsViewPath(vpath):
		return page.View
	default:
		return page.Content
	}
}

// contentName maps a virtual path or request path to the content key
// form: rooted, cleaned, extension stripped.
func contentName(vpath string) string {
	p := rootedPath(vpath)
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	if p == "/" {
		return ""
	}
	return p
}

// rootedPath normalizes to a cleaned virtual path with a leading
// separator.
func rootedPath(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

func baseName(vpath string) string {
	base := path.Base(vpath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// buildReplacer turns the configured token list into one ordered
// replacer. Earlier tokens win when two could match the same text.
func buildReplacer(tokens []config.Token) *strings.Replacer {
	if len(tokens) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(tokens)*2)
	for _, t := range tokens {
		pairs = append(pairs, t.Token, t.Value)
	}
	return strings.NewReplacer(pairs...)
}
