//go:build property

package registry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"

	"github.com/viewmill/viewmill/internal/backend"
	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/vfs"
)

// TestResolutionProperties validates name resolution across generated
// page sets.
func TestResolutionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("view pages shadow shared pages of the same name", prop.ForAll(
		func(names []string) bool {
			names = usableNames(names)
			if len(names) == 0 {
				return true
			}

			fsys := afero.NewMemMapFs()
			for _, n := range names {
				if err := afero.WriteFile(fsys, "views/"+n+".gohtml", []byte("view:"+n), 0o644); err != nil {
					return false
				}
				if err := afero.WriteFile(fsys, "views/shared/"+n+".gohtml", []byte("shared:"+n), 0o644); err != nil {
					return false
				}
			}

			reg, err := New(vfs.New(fsys), config.Default(), logging.Discard())
			if err != nil {
				return false
			}
			if err := reg.Discover(context.Background()); err != nil {
				return false
			}

			for _, n := range names {
				e, ok := reg.Resolve(n)
				if !ok || e.Path() != "/views/"+n+".gohtml" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("resolution ignores case", prop.ForAll(
		func(names []string) bool {
			names = usableNames(names)
			if len(names) == 0 {
				return true
			}

			fsys := afero.NewMemMapFs()
			for _, n := range names {
				if err := afero.WriteFile(fsys, "views/"+n+".gohtml", []byte(n), 0o644); err != nil {
					return false
				}
			}

			reg, err := New(vfs.New(fsys), config.Default(), logging.Discard())
			if err != nil {
				return false
			}
			if err := reg.Discover(context.Background()); err != nil {
				return false
			}

			for _, n := range names {
				if _, ok := reg.Resolve(strings.ToUpper(n)); !ok {
					return false
				}
				if _, ok := reg.Resolve(strings.ToLower(n)); !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("content pages resolve at their extension-free path", prop.ForAll(
		func(dir, file string) bool {
			if !usableName(dir) || !usableName(file) {
				return true
			}

			fsys := afero.NewMemMapFs()
			if err := afero.WriteFile(fsys, dir+"/"+file+".md", []byte("# "+file), 0o644); err != nil {
				return false
			}

			reg, err := New(vfs.New(fsys), config.Default(), logging.Discard())
			if err != nil {
				return false
			}
			if err := reg.Discover(context.Background()); err != nil {
				return false
			}

			_, ok := reg.ResolveContent(context.Background(), "/"+dir+"/"+file)
			return ok
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// TestTokenSubstitutionProperties validates the configured token table
// against generated token names and replacement values.
func TestTokenSubstitutionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every occurrence in a discovered page is replaced", prop.ForAll(
		func(name, val string) bool {
			if !usableName(name) || !usableName(val) {
				return true
			}
			token := "~" + name + "~"

			fsys := afero.NewMemMapFs()
			src := "start " + token + " mid " + token + " end"
			if err := afero.WriteFile(fsys, "views/page.gohtml", []byte(src), 0o644); err != nil {
				return false
			}

			cfg := config.Default()
			cfg.Tokens = []config.Token{{Token: token, Value: val}}
			reg, err := New(vfs.New(fsys), cfg, logging.Discard())
			if err != nil {
				return false
			}
			if err := reg.Discover(context.Background()); err != nil {
				return false
			}

			e, ok := reg.Resolve("page")
			if !ok {
				return false
			}
			r, err := e.Renderer()
			if err != nil {
				return false
			}
			var buf bytes.Buffer
			if err := r.Render(context.Background(), &buf, &backend.RenderData{}); err != nil {
				return false
			}
			return buf.String() == "start "+val+" mid "+val+" end"
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// usableNames folds the generated identifiers to a unique,
// filesystem-safe set.
func usableNames(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !usableName(n) {
			continue
		}
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	if len(out) > 8 {
		out = out[:8]
	}
	return out
}

func usableName(n string) bool {
	if n == "" || len(n) > 32 {
		return false
	}
	switch strings.ToLower(n) {
	case "shared", "views", "index", "viewmill":
		return false
	}
	return true
}
