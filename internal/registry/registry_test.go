package registry

import (
	"bytes"
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewmill/viewmill/internal/backend"
	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/errors"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/page"
	"github.com/viewmill/viewmill/internal/vfs"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	fs  afero.Fs
	cfg *config.Config
	reg *Registry
}

func newFixture(t *testing.T, opts ...vfs.Option) *fixture {
	t.Helper()
	return newFixtureConfig(t, config.Default(), opts...)
}

func newFixtureConfig(t *testing.T, cfg *config.Config, opts ...vfs.Option) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	reg, err := New(vfs.New(fsys, opts...), cfg, logging.Discard())
	require.NoError(t, err)
	return &fixture{fs: fsys, cfg: cfg, reg: reg}
}

func (f *fixture) write(t *testing.T, name, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, name, []byte(content), 0o644))
	require.NoError(t, f.fs.Chtimes(name, mod, mod))
}

func (f *fixture) discover(t *testing.T) {
	t.Helper()
	require.NoError(t, f.reg.Discover(context.Background()))
}

func renderEntry(t *testing.T, e *page.Entry, model interface{}) string {
	t.Helper()
	r, err := e.Renderer()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(context.Background(), &buf, &backend.RenderData{Model: model}))
	return buf.String()
}

func TestDiscoverClassifiesPages(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/home.gohtml", "home page", t0)
	f.write(t, "views/shared/nav.gohtml", "nav fragment", t0)
	f.write(t, "about/team.html", "the team", t0)
	f.write(t, "docs/note.md", "# note", t0)
	f.discover(t)

	home, ok := f.reg.Resolve("home")
	require.True(t, ok)
	assert.Equal(t, page.View, home.Kind())
	assert.Equal(t, "/views/home.gohtml", home.Path())

	nav, ok := f.reg.Resolve("nav")
	require.True(t, ok)
	assert.Equal(t, page.SharedView, nav.Kind())

	team, ok := f.reg.ResolveContent(context.Background(), "/about/team")
	require.True(t, ok)
	assert.Equal(t, page.Content, team.Kind())
	assert.Equal(t, "the team", renderEntry(t, team, nil))

	note, ok := f.reg.ResolveContent(context.Background(), "/docs/note")
	require.True(t, ok)
	assert.Contains(t, renderEntry(t, note, nil), "<h1>note</h1>")
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/Home.gohtml", "home", t0)
	f.discover(t)

	for _, name := range []string{"home", "HOME", "Home"} {
		_, ok := f.reg.Resolve(name)
		assert.True(t, ok, name)
	}
}

func TestResolvePrefersViewOverShared(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/widget.gohtml", "view widget", t0)
	f.write(t, "views/shared/widget.gohtml", "shared widget", t0)
	f.discover(t)

	e, ok := f.reg.Resolve("widget")
	require.True(t, ok)
	assert.Equal(t, "view widget", renderEntry(t, e, nil))
}

func TestDuplicateViewNameAbortsDiscovery(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/admin/index.gohtml", "a", t0)
	f.write(t, "views/public/index.gohtml", "b", t0)

	err := f.reg.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsDuplicate(err))
}

func TestCompileDiagnosticsSkipPage(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/good.gohtml", "fine", t0)
	f.write(t, "views/broken.gohtml", "{{.Model.Name", t0)
	f.discover(t)

	_, ok := f.reg.Resolve("broken")
	assert.False(t, ok, "a page with diagnostics is not indexed")
	_, ok = f.reg.Resolve("good")
	assert.True(t, ok, "one broken page never blocks the rest")

	assert.NotEmpty(t, f.reg.Diagnostics())

	for _, eng := range f.reg.Engines().Ordered {
		assert.False(t, eng.ContainsPageName("broken"),
			"no engine claims a page that failed with diagnostics")
	}
}

func TestMasterTemplateRegistration(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/shared/base.gohtml", "<html>{{.Body}}</html>", t0)
	f.write(t, "views/post.gohtml", "<!--layout:/views/shared/base.gohtml-->\npost body", t0)
	f.discover(t)

	post, ok := f.reg.Resolve("post")
	require.True(t, ok)
	assert.Equal(t, "/views/shared/base.gohtml", post.MasterPath())

	m, ok := f.reg.Master("/views/shared/base.gohtml")
	require.True(t, ok)
	_, err := m.Renderer()
	assert.NoError(t, err, "the master registered and compiled")

	t.Run("path lookup folds case and rooting", func(t *testing.T) {
		_, ok := f.reg.Master("views/Shared/Base.gohtml")
		assert.True(t, ok)
	})
}

func TestMissingMasterLeavesPageServing(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/post.gohtml", "<!--layout:/views/shared/nope.gohtml-->\nbody", t0)
	f.discover(t)

	post, ok := f.reg.Resolve("post")
	require.True(t, ok)
	assert.Equal(t, "body", renderEntry(t, post, nil))

	_, ok = f.reg.Master("/views/shared/nope.gohtml")
	assert.False(t, ok)
}

func TestMarkdownCannotServeAsMaster(t *testing.T) {
	f := newFixture(t)
	f.write(t, "layout.md", "# layout", t0)
	f.write(t, "views/post.gohtml", "<!--layout:/layout.md-->\nbody", t0)
	f.discover(t)

	_, ok := f.reg.Master("/layout.md")
	assert.False(t, ok)
}

func TestResolveContentDirectoryIndex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "about/index.html", "about index", t0)
	f.discover(t)

	e, ok := f.reg.ResolveContent(context.Background(), "/about")
	require.True(t, ok)
	assert.Equal(t, "about index", renderEntry(t, e, nil))

	_, ok = f.reg.ResolveContent(context.Background(), "/missing")
	assert.False(t, ok)
}

func TestEmbeddedContentResolvesOnDemand(t *testing.T) {
	embedded := fstest.MapFS{
		"docs/guide.md": &fstest.MapFile{Data: []byte("# guide")},
	}
	f := newFixture(t, vfs.WithEmbedded(embedded))
	f.discover(t)

	e, ok := f.reg.ResolveContent(context.Background(), "/docs/guide")
	require.True(t, ok)
	assert.Contains(t, renderEntry(t, e, nil), "<h1>guide</h1>")

	again, ok := f.reg.ResolveContent(context.Background(), "/docs/guide")
	require.True(t, ok)
	assert.Same(t, e, again, "the lazily indexed entry is reused")
}

func TestEmbeddedViewsAreDiscovered(t *testing.T) {
	embedded := fstest.MapFS{
		"views/shared/frame.gohtml": &fstest.MapFile{Data: []byte("packaged frame")},
	}
	f := newFixture(t, vfs.WithEmbedded(embedded))
	f.discover(t)

	e, ok := f.reg.Resolve("frame")
	require.True(t, ok)
	assert.Equal(t, page.SharedView, e.Kind())
	assert.True(t, e.LastModified().IsZero())
}

func TestWatchingRequiresFilesOnDisk(t *testing.T) {
	t.Run("embedded only", func(t *testing.T) {
		embedded := fstest.MapFS{
			"views/home.gohtml": &fstest.MapFile{Data: []byte("home")},
		}
		f := newFixture(t, vfs.WithEmbedded(embedded))
		f.discover(t)
		assert.False(t, f.reg.Watching())
	})

	t.Run("files on disk", func(t *testing.T) {
		f := newFixture(t)
		f.write(t, "views/home.gohtml", "home", t0)
		f.discover(t)
		assert.True(t, f.reg.Watching())
	})

	t.Run("watching off in config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Watch = false
		f := newFixtureConfig(t, cfg)
		f.write(t, "views/home.gohtml", "home", t0)
		f.discover(t)
		assert.False(t, f.reg.Watching())
	})
}

func TestBuiltinStatusPage(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/home.gohtml", "home", t0)
	f.discover(t)

	e, ok := f.reg.ResolveContent(context.Background(), "/viewmill")
	require.True(t, ok)
	assert.Equal(t, "native", e.Engine().Name())

	out := renderEntry(t, e, nil)
	assert.Contains(t, out, "viewmill status")
	assert.Contains(t, out, "/views/home.gohtml")

	t.Run("project page shadows the builtin", func(t *testing.T) {
		f := newFixture(t)
		f.write(t, "viewmill.md", "# mine", t0)
		f.discover(t)

		e, ok := f.reg.ResolveContent(context.Background(), "/viewmill")
		require.True(t, ok)
		assert.Contains(t, renderEntry(t, e, nil), "<h1>mine</h1>")
	})
}

func TestCheckAndReload(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/hot.gohtml", "one", t0)
	f.discover(t)

	e, ok := f.reg.Resolve("hot")
	require.True(t, ok)
	assert.Equal(t, "one", renderEntry(t, e, nil))

	f.write(t, "views/hot.gohtml", "two", t0.Add(time.Second))
	f.reg.CheckAndReload(context.Background(), e)
	assert.Equal(t, "two", renderEntry(t, e, nil))
}

func TestCheckAndReloadCoversTheMaster(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/shared/base.gohtml", "v1[{{.Body}}]", t0)
	f.write(t, "views/post.gohtml", "<!--layout:/views/shared/base.gohtml-->\nbody", t0)
	f.discover(t)

	post, ok := f.reg.Resolve("post")
	require.True(t, ok)

	f.write(t, "views/shared/base.gohtml", "v2[{{.Body}}]", t0.Add(time.Second))
	f.reg.CheckAndReload(context.Background(), post)

	m, ok := f.reg.Master("/views/shared/base.gohtml")
	require.True(t, ok)
	r, err := m.Renderer()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(context.Background(), &buf, &backend.RenderData{Body: "B"}))
	assert.Equal(t, "v2[B]", buf.String(),
		"an untouched page still picks up its reworked layout")
}

func TestReloadFailureIsCollected(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/hot.gohtml", "good", t0)
	f.discover(t)

	e, _ := f.reg.Resolve("hot")
	f.write(t, "views/hot.gohtml", "{{.Model.X", t0.Add(time.Second))
	f.reg.CheckAndReload(context.Background(), e)

	assert.Equal(t, "good", renderEntry(t, e, nil), "stale beats broken")
	assert.NotEmpty(t, f.reg.Errors())
}

func TestTokenSubstitution(t *testing.T) {
	cfg := config.Default()
	cfg.Tokens = []config.Token{{Token: "~brand~", Value: "viewmill"}}
	f := newFixtureConfig(t, cfg)
	f.write(t, "views/home.gohtml", "welcome to ~brand~", t0)
	f.write(t, "views/shared/base.gohtml", "~brand~: {{.Body}}", t0)
	f.write(t, "views/post.gohtml", "<!--layout:/views/shared/base.gohtml-->\nx", t0)
	f.discover(t)

	home, _ := f.reg.Resolve("home")
	assert.Equal(t, "welcome to viewmill", renderEntry(t, home, nil))

	m, ok := f.reg.Master("/views/shared/base.gohtml")
	require.True(t, ok)
	r, err := m.Renderer()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(context.Background(), &buf, &backend.RenderData{Body: "b"}))
	assert.Equal(t, "viewmill: b", buf.String(),
		"tokens apply to master templates as well")
}

func TestPreparationFailureInstallsSubstitute(t *testing.T) {
	f := newFixture(t)
	f.discover(t)

	// An entry whose file does not exist fails preparation without
	// diagnostics, which installs an error substitute under the name.
	eng, ok := f.reg.Engines().ForExt("gohtml")
	require.True(t, ok)
	e := page.New("ghost", "/views/ghost.gohtml", page.View, eng, vfs.New(afero.NewMemMapFs()), nil)
	require.NoError(t, f.reg.AddPage(context.Background(), e))

	got, ok := f.reg.Resolve("ghost")
	require.True(t, ok)
	assert.True(t, got.Failed())
	assert.Contains(t, renderEntry(t, got, nil), "Page Error")
	assert.True(t, eng.ContainsPageName("ghost"),
		"the substitute stays addressable through the engine")
	assert.NotEmpty(t, f.reg.Errors())
}

func TestPagesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.write(t, "views/home.gohtml", "home", t0)
	f.write(t, "views/shared/base.gohtml", "{{.Body}}", t0)
	f.write(t, "views/post.gohtml", "<!--layout:/views/shared/base.gohtml-->\nx", t0)
	f.write(t, "about.md", "# about", t0)
	f.discover(t)

	entries := f.reg.Pages()
	require.NotEmpty(t, entries)

	kinds := make(map[page.Kind]int)
	for _, e := range entries {
		kinds[e.Kind()]++
	}
	assert.Equal(t, 2, kinds[page.View], "home and post")
	assert.Equal(t, 1, kinds[page.SharedView])
	assert.Equal(t, 2, kinds[page.Content], "about and the builtin status page")
	assert.Equal(t, 1, kinds[page.Master])

	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		ordered := prev.Kind() < cur.Kind() ||
			(prev.Kind() == cur.Kind() && prev.Name() <= cur.Name())
		assert.True(t, ordered, "entries sort by kind then name")
	}
}
