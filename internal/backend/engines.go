package backend

import (
	"fmt"

	"github.com/oxtoacart/bpool"

	"github.com/viewmill/viewmill/internal/config"
)

// renderBufferCount sizes the shared render buffer pool.
const renderBufferCount = 64

// Set is the immutable collection of engines built from configuration.
// Ordered holds the render-time probing order: configured engines
// first, in configuration order, then the native engine.
type Set struct {
	Ordered []Engine
	ByExt   map[string]Engine
	Native  *Native

	exts []string
}

// NewSet builds one engine instance per configured extension plus the
// always-present native engine. All engines share one buffer pool and
// the given master resolver.
func NewSet(engines []config.EngineConfig, imports []string, masters MasterResolver) (*Set, error) {
	pool := bpool.NewBufferPool(renderBufferCount)

	set := &Set{
		ByExt:  make(map[string]Engine, len(engines)),
		Native: NewNative(masters, pool),
	}

	for _, ec := range engines {
		ext := config.NormalizeExt(ec.Ext)
		if _, dup := set.ByExt[ext]; dup {
			return nil, fmt.Errorf("extension %q configured twice", ext)
		}

		var engine Engine
		switch ec.Engine {
		case "gotmpl":
			engine = NewGoTemplates(masters, pool)
		case "scriggo":
			engine = NewScriggo(imports, masters, pool)
		case "markdown":
			engine = NewMarkdown(masters, pool)
		default:
			return nil, fmt.Errorf("unknown engine %q for extension %q", ec.Engine, ext)
		}

		set.ByExt[ext] = engine
		set.Ordered = append(set.Ordered, engine)
		set.exts = append(set.exts, ext)
	}

	set.Ordered = append(set.Ordered, set.Native)
	return set, nil
}

// ForExt returns the engine bound to an extension (without dot).
func (s *Set) ForExt(ext string) (Engine, bool) {
	e, ok := s.ByExt[config.NormalizeExt(ext)]
	return e, ok
}

// Extensions lists the configured extensions in probing order.
func (s *Set) Extensions() []string {
	exts := make([]string, len(s.exts))
	copy(exts, s.exts)
	return exts
}
