package cmd

import (
	"context"

	"github.com/viewmill/viewmill/internal/assets"
	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/logging"
	"github.com/viewmill/viewmill/internal/registry"
	"github.com/viewmill/viewmill/internal/vfs"
)

// openProject builds the file source for the configured root, attaches
// the packaged defaults, and runs discovery. Every command that needs
// the page tables starts here.
func openProject(ctx context.Context, cfg *config.Config, log logging.Logger) (*registry.Registry, error) {
	src := vfs.NewOS(cfg.Source.Root,
		vfs.WithEmbedded(assets.Embedded()),
		vfs.WithViewDir(cfg.Source.ViewDir),
		vfs.WithSharedDir(cfg.Source.SharedDir),
	)

	reg, err := registry.New(src, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := reg.Discover(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}
