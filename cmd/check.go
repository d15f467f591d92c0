package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/errors"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compile every page and report problems",
	Long: `Run a compile-only pass over the project: discover every page,
compile it, and print a file:line:column diagnostic for anything
broken. The exit code is non-zero when any page fails, which makes
the command usable as a CI gate.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Watch = false

	reg, err := openProject(context.Background(), cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	diags := reg.Diagnostics()
	for _, d := range diags {
		fmt.Fprintln(cmd.ErrOrStderr(), d.String())
	}

	problems := len(diags)
	for _, e := range reg.Errors() {
		// Compile failures already surfaced as diagnostics above.
		if _, ok := errors.AsCompileError(e); ok {
			continue
		}
		fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
		problems++
	}

	total := len(reg.Pages())
	if problems > 0 {
		return fmt.Errorf("%d problem(s) across %d page(s)", problems, total)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d page(s) OK\n", total)
	return nil
}
