package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/viewmill/viewmill/internal/config"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List all registered pages",
	Long: `Run discovery and list every page the registry would serve, with
its kind, the engine that compiles it, and its source location.

Examples:
  viewmill list                   # List pages in table format
  viewmill list -f json           # Output as JSON
  viewmill list -f yaml           # Output as YAML`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json, yaml)")
}

type pageRow struct {
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"`
	Engine string `json:"engine" yaml:"engine"`
	Path   string `json:"path" yaml:"path"`
	Failed bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Watch = false

	reg, err := openProject(context.Background(), cfg, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	entries := reg.Pages()
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pages found.")
		return nil
	}

	rows := make([]pageRow, len(entries))
	for i, e := range entries {
		rows[i] = pageRow{
			Name:   e.Name(),
			Kind:   e.Kind().String(),
			Engine: e.Engine().Name(),
			Path:   e.Path(),
			Failed: e.Failed(),
		}
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(listFormat) {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(rows)
	case "table":
		return writeListTable(out, rows)
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", listFormat)
	}
}

func writeListTable(out io.Writer, rows []pageRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	title := cases.Title(language.English)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		title.String("name"), title.String("kind"), title.String("engine"), title.String("path"))

	for _, row := range rows {
		name := row.Name
		if row.Failed {
			name += " (failed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, row.Kind, row.Engine, row.Path)
	}
	return nil
}
