package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Initialize a new viewmill project",
	Long: `Initialize a viewmill project with a starter page tree and a
configuration file. If no directory is provided, the current directory
is used.

The scaffold contains a shared layout, a markdown landing page, and a
Go-template view, so "viewmill serve" works immediately afterwards.

Examples:
  viewmill init              # initialize the current directory
  viewmill init my-site      # create and initialize my-site/
  viewmill init --minimal    # configuration file and directories only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var initMinimal bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Skip the sample pages")
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
		if err := os.MkdirAll(projectDir, 0755); err != nil {
			return fmt.Errorf("failed to create project directory: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initializing viewmill project in %s\n", projectDir)

	for _, dir := range []string{"views", "views/shared"} {
		if err := os.MkdirAll(filepath.Join(projectDir, dir), 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := writeScaffold(cmd, projectDir, ".viewmill.yml", starterConfig); err != nil {
		return err
	}

	if !initMinimal {
		for name, content := range starterPages {
			if err := writeScaffold(cmd, projectDir, name, content); err != nil {
				return err
			}
		}
	}

	fmt.Fprintln(out, "Project initialized.")
	fmt.Fprintln(out, "\nNext steps:")
	if projectDir != "." {
		fmt.Fprintln(out, "  1. cd "+projectDir)
		fmt.Fprintln(out, "  2. viewmill serve")
	} else {
		fmt.Fprintln(out, "  1. viewmill serve")
	}
	fmt.Fprintln(out, "  Then open http://localhost:7070 in your browser.")

	return nil
}

// writeScaffold creates one starter file, leaving any existing file
// untouched.
func writeScaffold(cmd *cobra.Command, projectDir, name, content string) error {
	path := filepath.Join(projectDir, filepath.FromSlash(name))
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s already exists, skipping\n", name)
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

const starterConfig = `# viewmill configuration file
server:
  host: localhost
  port: 7070

source:
  root: .
  view_dir: views
  shared_dir: shared

watch: true

log:
  level: info
`

var starterPages = map[string]string{
	"views/shared/layout.gohtml": `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{with .Model.title}}{{.}}{{else}}viewmill{{end}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`,

	"views/index.md": `<!--layout:/views/shared/layout.gohtml-->
# Welcome to viewmill

This page is rendered from ` + "`views/index.md`" + `. Edit it and the
browser reloads on save.

- Markdown pages live next to template pages.
- [A Go-template view](/hello?name=you) shows model binding.
- Shared layouts wrap every page that declares one.
`,

	"views/hello.gohtml": `<!--layout:/views/shared/layout.gohtml-->
<h1>Hello {{with .Model.name}}{{.}}{{else}}world{{end}}</h1>
<p>Query parameters arrive on the model: try <code>?name=Go</code>.</p>
`,
}
