package backend

import (
	"context"
	"html/template"
	"io"
	"regexp"
	"strconv"

	"github.com/oxtoacart/bpool"

	"github.com/viewmill/viewmill/internal/errors"
)

// GoTemplates compiles pages with html/template. Render data is the
// dot value: pages read {{.Model}}, masters read {{.Body}}.
type GoTemplates struct {
	book
	funcs template.FuncMap
}

// NewGoTemplates builds the html/template engine.
func NewGoTemplates(masters MasterResolver, pool *bpool.BufferPool) *GoTemplates {
	return &GoTemplates{
		book: newBook("gotmpl", masters, pool),
		funcs: template.FuncMap{
			"safe": func(s string) template.HTML { return template.HTML(s) },
		},
	}
}

func (e *GoTemplates) CanMaster() bool { return true }

func (e *GoTemplates) Compile(name, path, source string) (Renderer, error) {
	tmpl, err := template.New(name).Funcs(e.funcs).Parse(source)
	if err != nil {
		return nil, &errors.CompileError{
			Page:        name,
			Path:        path,
			Engine:      e.Name(),
			Diagnostics: []errors.Diagnostic{parseTemplateError(path, err)},
		}
	}
	return &goTemplateRenderer{tmpl: tmpl}, nil
}

type goTemplateRenderer struct {
	tmpl *template.Template
}

func (r *goTemplateRenderer) Render(_ context.Context, w io.Writer, data *RenderData) error {
	return r.tmpl.Execute(w, data)
}

// templateErrRe picks the line (and optional column) out of an
// html/template parse error: `template: name:3: unexpected ...`
var templateErrRe = regexp.MustCompile(`template: .*?:(\d+)(?::(\d+))?: (.+)$`)

func parseTemplateError(path string, err error) errors.Diagnostic {
	diag := errors.Diagnostic{Path: path, Message: err.Error()}
	if m := templateErrRe.FindStringSubmatch(err.Error()); m != nil {
		diag.Line, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			diag.Column, _ = strconv.Atoi(m[2])
		}
		diag.Message = m[3]
	}
	return diag
}
