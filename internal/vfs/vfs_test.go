package vfs

import (
	"sort"
	"testing"
	"testing/fstest"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memSource(t *testing.T, files map[string]string, opts ...Option) (*Source, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, contents := range files {
		require.NoError(t, afero.WriteFile(fsys, name, []byte(contents), 0o644))
	}
	return New(fsys, opts...), fsys
}

func listPaths(handles []FileHandle) []string {
	paths := make([]string, len(handles))
	for i, h := range handles {
		paths[i] = h.VirtualPath
	}
	sort.Strings(paths)
	return paths
}

func TestListFiles(t *testing.T) {
	src, _ := memSource(t, map[string]string{
		"views/hello.gohtml":         "<p>hi</p>",
		"views/shared/layout.gohtml": "<html></html>",
		"about/team.gohtml":          "<p>team</p>",
		"views/ignore.html":          "other extension",
		"node_modules/x.gohtml":      "skipped",
		".hidden/y.gohtml":           "skipped",
	})

	handles, err := src.ListFiles("gohtml")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/about/team.gohtml",
		"/views/hello.gohtml",
		"/views/shared/layout.gohtml",
	}, listPaths(handles))
}

func TestListFilesExtensionCaseInsensitive(t *testing.T) {
	src, _ := memSource(t, map[string]string{
		"views/Upper.GOHTML": "x",
	})

	handles, err := src.ListFiles("gohtml")
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "Upper", handles[0].Name)
}

func TestListFilesMissingRoot(t *testing.T) {
	src := NewOS("/definitely/not/here/viewmill-test")
	handles, err := src.ListFiles("gohtml")
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestClassification(t *testing.T) {
	src, _ := memSource(t, nil)

	assert.True(t, src.IsViewPath("/views/hello.gohtml"))
	assert.True(t, src.IsViewPath("/Views/hello.gohtml"), "classification is case-insensitive")
	assert.True(t, src.IsViewPath("/views/shared/layout.gohtml"))
	assert.False(t, src.IsViewPath("/about/team.gohtml"))

	assert.True(t, src.IsSharedPath("/views/shared/layout.gohtml"))
	assert.False(t, src.IsSharedPath("/views/hello.gohtml"))
	assert.False(t, src.IsSharedPath("/shared/hello.gohtml"))
}

func TestCustomLayout(t *testing.T) {
	src, _ := memSource(t, nil, WithViewDir("pages"), WithSharedDir("common"))

	assert.True(t, src.IsViewPath("/pages/a.html"))
	assert.True(t, src.IsSharedPath("/pages/common/a.html"))
	assert.False(t, src.IsViewPath("/views/a.html"))
}

func TestOpenAndRead(t *testing.T) {
	src, fsys := memSource(t, map[string]string{
		"views/hello.gohtml": "<p>hi</p>",
	})

	h, ok := src.Open("/views/hello.gohtml")
	require.True(t, ok)
	assert.Equal(t, "hello", h.Name)
	assert.False(t, h.Embedded)
	assert.False(t, h.ModTime.IsZero())

	text, err := h.ReadAllText()
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", text)

	// Reads observe later writes through the same handle.
	require.NoError(t, afero.WriteFile(fsys, "views/hello.gohtml", []byte("<p>new</p>"), 0o644))
	text, err = h.ReadAllText()
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", text)

	_, ok = src.Open("/views/missing.gohtml")
	assert.False(t, ok)
}

func TestEmbeddedFallback(t *testing.T) {
	embedded := fstest.MapFS{
		"views/shared/default.gohtml": &fstest.MapFile{Data: []byte("embedded layout")},
		"views/welcome.gohtml":        &fstest.MapFile{Data: []byte("embedded welcome")},
		"static/readme.md":            &fstest.MapFile{Data: []byte("# embedded content")},
	}

	src, _ := memSource(t, map[string]string{
		"views/welcome.gohtml": "disk welcome",
	}, WithEmbedded(embedded))

	t.Run("discovery shadows embedded with OS files", func(t *testing.T) {
		handles, err := src.ListFiles("gohtml")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"/views/shared/default.gohtml",
			"/views/welcome.gohtml",
		}, listPaths(handles))

		for _, h := range handles {
			if h.VirtualPath == "/views/welcome.gohtml" {
				text, err := h.ReadAllText()
				require.NoError(t, err)
				assert.Equal(t, "disk welcome", text)
			}
		}
	})

	t.Run("embedded content outside the view root is not discovered", func(t *testing.T) {
		handles, err := src.ListFiles("md")
		require.NoError(t, err)
		assert.Empty(t, handles)
	})

	t.Run("embedded files resolve by name", func(t *testing.T) {
		h, ok := src.OpenEmbedded("static/readme.md")
		require.True(t, ok)
		assert.True(t, h.Embedded)
		assert.True(t, h.ModTime.IsZero())

		text, err := h.ReadAllText()
		require.NoError(t, err)
		assert.Equal(t, "# embedded content", text)

		_, ok = src.OpenEmbedded("static/missing.md")
		assert.False(t, ok)
		_, ok = src.OpenEmbedded("/static/readme.md")
		assert.False(t, ok, "embedded names never carry a leading separator")
	})

	t.Run("open falls through to embedded", func(t *testing.T) {
		h, ok := src.Open("/views/shared/default.gohtml")
		require.True(t, ok)
		assert.True(t, h.Embedded)
	})
}

func TestReadAllTextZeroHandle(t *testing.T) {
	var h FileHandle
	_, err := h.ReadAllText()
	assert.Error(t, err)
}

func TestModTimeAdvances(t *testing.T) {
	src, fsys := memSource(t, map[string]string{
		"views/hello.gohtml": "v1",
	})

	h1, ok := src.Open("/views/hello.gohtml")
	require.True(t, ok)

	require.NoError(t, fsys.Chtimes("views/hello.gohtml", time.Now(), h1.ModTime.Add(2*time.Second)))

	h2, ok := src.Open("/views/hello.gohtml")
	require.True(t, ok)
	assert.True(t, h2.ModTime.After(h1.ModTime))
}
