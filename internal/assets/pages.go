package assets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/viewmill/viewmill/internal/errors"
)

const pageStyle = `
        body { font-family: monospace; margin: 20px; background-color: #1e1e1e; color: #ffffff; }
        a { color: #88ccff; }
        h1 { font-size: 1.4em; }
        .panel { margin: 20px 0; padding: 15px; border-left: 4px solid #4444ff; background-color: #2d2d2d; }
        .panel.broken { border-left-color: #ff4444; }
        .location { color: #88ccff; font-size: 0.9em; }
        .message { margin: 10px 0; }
        .hint { color: #88ff88; font-style: italic; margin-top: 10px; }
        code { background-color: #1a1a1a; padding: 2px 4px; border-radius: 4px; }
        table { border-collapse: collapse; margin-top: 20px; }
        th, td { padding: 6px 12px; text-align: left; border-bottom: 1px solid #333; }
        tr.failed td { color: #ff4444; }
`

// Welcome is the page served at the root when a project has no index
// page of its own.
func Welcome(version string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHead(&b, "viewmill")
		b.WriteString("    <h1>viewmill</h1>\n")
		b.WriteString(fmt.Sprintf("    <p class=\"location\">%s</p>\n", templ.EscapeString(version)))
		b.WriteString(`    <div class="panel">
        <div class="message">No index page found. To get started, create one of:</div>
        <ul>
            <li><code>views/index.html</code></li>
            <li><code>views/index.gohtml</code></li>
            <li><code>index.md</code> (served as a content page)</li>
        </ul>
        <div class="hint">A page opts into a layout with <code>&lt;!--layout:/views/shared/viewmill-layout.html--&gt;</code> on its first line.</div>
    </div>
`)
		writeFoot(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ErrorPage stands in for a page whose preparation failed for a reason
// other than compiler diagnostics. It renders in place of the page so
// the failure shows up where the page would have.
func ErrorPage(name, path string, cause error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHead(&b, "Page Error")
		b.WriteString("    <h1>Page Error</h1>\n")
		b.WriteString("    <div class=\"panel broken\">\n")
		b.WriteString(fmt.Sprintf("        <div class=\"location\">%s (%s)</div>\n",
			templ.EscapeString(name), templ.EscapeString(path)))
		msg := "unknown error"
		if cause != nil {
			msg = cause.Error()
		}
		b.WriteString(fmt.Sprintf("        <div class=\"message\">%s</div>\n", templ.EscapeString(msg)))
		b.WriteString("        <div class=\"hint\">Fix the source file and reload; the page recovers without a restart.</div>\n")
		b.WriteString("    </div>\n")
		writeFoot(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// DiagnosticsPage lists compiler diagnostics for one source file.
func DiagnosticsPage(path string, diags []errors.Diagnostic) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHead(&b, "Compile Errors")
		b.WriteString("    <h1>Compile Errors</h1>\n")
		b.WriteString(fmt.Sprintf("    <p class=\"location\">%s</p>\n", templ.EscapeString(path)))
		for _, d := range diags {
			b.WriteString("    <div class=\"panel broken\">\n")
			loc := d.Path
			if d.Line > 0 {
				loc = fmt.Sprintf("%s:%d", loc, d.Line)
				if d.Column > 0 {
					loc = fmt.Sprintf("%s:%d", loc, d.Column)
				}
			}
			b.WriteString(fmt.Sprintf("        <div class=\"location\">%s</div>\n", templ.EscapeString(loc)))
			b.WriteString(fmt.Sprintf("        <div class=\"message\">%s</div>\n", templ.EscapeString(d.Message)))
			b.WriteString("    </div>\n")
		}
		writeFoot(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// StatusRow is one registered page as shown on the status page.
type StatusRow struct {
	Name     string
	Kind     string
	Engine   string
	Path     string
	Modified string
	Failed   bool
}

// StatusPage lists everything the registry currently serves. It is
// wired up at /viewmill as a built-in page.
func StatusPage(version string, watching bool, rows []StatusRow) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHead(&b, "viewmill status")
		b.WriteString("    <h1>viewmill status</h1>\n")
		state := "off"
		if watching {
			state = "on"
		}
		b.WriteString(fmt.Sprintf("    <p class=\"location\">%s &middot; watch %s &middot; %d pages</p>\n",
			templ.EscapeString(version), state, len(rows)))
		b.WriteString("    <table>\n        <tr><th>name</th><th>kind</th><th>engine</th><th>source</th><th>modified</th></tr>\n")
		for _, row := range rows {
			cls := ""
			if row.Failed {
				cls = ` class="failed"`
			}
			b.WriteString(fmt.Sprintf("        <tr%s><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
				cls,
				templ.EscapeString(row.Name),
				templ.EscapeString(row.Kind),
				templ.EscapeString(row.Engine),
				templ.EscapeString(row.Path),
				templ.EscapeString(row.Modified)))
		}
		b.WriteString("    </table>\n")
		writeFoot(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// NotFound is the catch-all 404 page.
func NotFound(requestPath string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHead(&b, "Not Found")
		b.WriteString("    <h1>Not Found</h1>\n")
		b.WriteString("    <div class=\"panel\">\n")
		b.WriteString(fmt.Sprintf("        <div class=\"message\">No page matches <code>%s</code>.</div>\n",
			templ.EscapeString(requestPath)))
		b.WriteString("        <div class=\"hint\">Run <code>viewmill list</code> to see what is registered.</div>\n")
		b.WriteString("    </div>\n")
		writeFoot(&b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeHead(b *strings.Builder, title string) {
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(fmt.Sprintf("    <title>%s</title>\n", templ.EscapeString(title)))
	b.WriteString("    <style>")
	b.WriteString(pageStyle)
	b.WriteString("    </style>\n</head>\n<body>\n")
}

func writeFoot(b *strings.Builder) {
	b.WriteString("</body>\n</html>\n")
}
