package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// withProject stages template files in a temp directory and points the
// global configuration at it. Cleanup restores the viper state so
// tests stay independent.
func withProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("source.root", dir)
	viper.Set("watch", false)
	viper.Set("log.level", "error")
	return dir
}

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	c := &cobra.Command{}
	c.SetOut(out)
	c.SetErr(errOut)
	return c, out, errOut
}

func setListFormat(t *testing.T, format string) {
	t.Helper()
	listFormat = format
	t.Cleanup(func() { listFormat = "table" })
}

func TestListTable(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml": "Home",
		"docs/guide.md":     "# Guide",
	})
	setListFormat(t, "table")

	c, out, _ := newTestCommand()
	require.NoError(t, runList(c, nil))

	assert.Contains(t, out.String(), "Name")
	assert.Contains(t, out.String(), "Engine")
	assert.Contains(t, out.String(), "home")
	assert.Contains(t, out.String(), "/docs/guide.md")
	assert.Contains(t, out.String(), "markdown")
}

func TestListJSON(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml": "Home",
		"docs/guide.md":     "# Guide",
	})
	setListFormat(t, "json")

	c, out, _ := newTestCommand()
	require.NoError(t, runList(c, nil))

	var rows []pageRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))

	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
	}
	assert.Contains(t, names, "home")
	assert.Contains(t, names, "/docs/guide")
	assert.Contains(t, names, "/viewmill", "the builtin status page is listed too")
}

func TestListYAML(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml": "Home",
	})
	setListFormat(t, "yaml")

	c, out, _ := newTestCommand()
	require.NoError(t, runList(c, nil))

	var rows []pageRow
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rows))

	found := false
	for _, row := range rows {
		if row.Name == "home" {
			found = true
			assert.Equal(t, "view", row.Kind)
			assert.Equal(t, "gotmpl", row.Engine)
		}
	}
	assert.True(t, found)
}

func TestListRejectsUnknownFormat(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml": "Home",
	})
	setListFormat(t, "csv")

	c, _, _ := newTestCommand()
	err := runList(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestCheckReportsBrokenPage(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml":   "Home",
		"views/broken.gohtml": "line one\n{{.Model.x",
	})

	c, _, errOut := newTestCommand()
	err := runCheck(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "problem")
	assert.Contains(t, errOut.String(), "broken.gohtml")
}

func TestCheckPassesCleanProject(t *testing.T) {
	withProject(t, map[string]string{
		"views/home.gohtml": "Home",
		"docs/guide.md":     "# Guide",
	})

	c, out, errOut := newTestCommand()
	require.NoError(t, runCheck(c, nil))
	assert.Contains(t, out.String(), "OK")
	assert.Empty(t, errOut.String())
}

func TestCommandsRejectInvalidConfig(t *testing.T) {
	withProject(t, nil)
	viper.Set("server.port", -2)

	c, _, _ := newTestCommand()
	err := runList(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestVersionCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		versionFormat = "text"
		t.Cleanup(func() { versionFormat = "text" })

		c, out, _ := newTestCommand()
		require.NoError(t, runVersion(c, nil))
		assert.Contains(t, out.String(), "viewmill")
	})

	t.Run("json", func(t *testing.T) {
		versionFormat = "json"
		t.Cleanup(func() { versionFormat = "text" })

		c, out, _ := newTestCommand()
		require.NoError(t, runVersion(c, nil))

		var info map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.NotEmpty(t, info["version"])
		assert.NotEmpty(t, info["platform"])
	})

	t.Run("unknown format", func(t *testing.T) {
		versionFormat = "xml"
		t.Cleanup(func() { versionFormat = "text" })

		c, _, _ := newTestCommand()
		require.Error(t, runVersion(c, nil))
	})
}

func TestInitScaffoldsProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")

	c, out, _ := newTestCommand()
	require.NoError(t, runInit(c, []string{dir}))
	assert.Contains(t, out.String(), "Project initialized")

	for _, name := range []string{
		".viewmill.yml",
		"views/shared/layout.gohtml",
		"views/index.md",
		"views/hello.gohtml",
	} {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		assert.NoError(t, err, name)
	}

	t.Run("existing files survive a second run", func(t *testing.T) {
		marker := filepath.Join(dir, "views", "index.md")
		require.NoError(t, os.WriteFile(marker, []byte("mine"), 0o644))

		c, out, _ := newTestCommand()
		require.NoError(t, runInit(c, []string{dir}))
		assert.Contains(t, out.String(), "skipping")

		kept, err := os.ReadFile(marker)
		require.NoError(t, err)
		assert.Equal(t, "mine", string(kept))
	})

	t.Run("scaffold passes check", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		viper.Set("source.root", dir)
		viper.Set("watch", false)
		viper.Set("log.level", "error")

		c, out, _ := newTestCommand()
		require.NoError(t, runCheck(c, nil))
		assert.Contains(t, out.String(), "OK")
	})
}
