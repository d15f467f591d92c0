package backend

import (
	"context"
	stderrors "errors"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/open2b/scriggo"
	"github.com/open2b/scriggo/builtin"
	"github.com/open2b/scriggo/native"
	"github.com/oxtoacart/bpool"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/viewmill/viewmill/internal/errors"
)

// Scriggo compiles pages with the Scriggo template engine. Every page
// sees the globals Model (a string-keyed map) and Body (the nested
// page output inside a master), plus the builtin groups selected by
// the configured imports.
type Scriggo struct {
	book
	opts *scriggo.BuildOptions
}

// NewScriggo builds the Scriggo engine. imports names builtin groups
// ("strings", "time", ...) whose declarations become template globals;
// unknown group names are ignored.
func NewScriggo(imports []string, masters MasterResolver, pool *bpool.BufferPool) *Scriggo {
	globals := native.Declarations{
		"Model": (*map[string]interface{})(nil),
		"Body":  (*native.HTML)(nil),
	}
	for _, group := range imports {
		for name, decl := range importGroup(group) {
			globals[name] = decl
		}
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)

	return &Scriggo{
		book: newBook("scriggo", masters, pool),
		opts: &scriggo.BuildOptions{
			Globals: globals,
			MarkdownConverter: func(src []byte, out io.Writer) error {
				return md.Convert(src, out)
			},
		},
	}
}

func (e *Scriggo) CanMaster() bool { return true }

func (e *Scriggo) Compile(name, path, source string) (Renderer, error) {
	file := strings.TrimPrefix(path, "/")
	if file == "" {
		file = name + ".html"
	}

	fsys := scriggo.Files{file: []byte(source)}
	tmpl, err := scriggo.BuildTemplate(fsys, file, e.opts)
	if err != nil {
		diag := errors.Diagnostic{Path: path, Message: err.Error()}
		var be *scriggo.BuildError
		if stderrors.As(err, &be) {
			pos := be.Position()
			diag = errors.Diagnostic{
				Path:    "/" + be.Path(),
				Line:    pos.Line,
				Column:  pos.Column,
				Message: be.Message(),
			}
		}
		return nil, &errors.CompileError{
			Page:        name,
			Path:        path,
			Engine:      e.Name(),
			Diagnostics: []errors.Diagnostic{diag},
		}
	}
	return &scriggoRenderer{tmpl: tmpl}, nil
}

type scriggoRenderer struct {
	tmpl *scriggo.Template
}

func (r *scriggoRenderer) Render(ctx context.Context, w io.Writer, data *RenderData) error {
	vars := map[string]interface{}{
		"Model": asMap(data.Model),
		"Body":  native.HTML(data.Body),
	}
	return r.tmpl.Run(w, vars, &scriggo.RunOptions{Context: ctx})
}

// asMap coerces a model value to the string-keyed map the Model global
// is declared as. Structs flatten to their exported fields.
func asMap(model interface{}) map[string]interface{} {
	switch m := model.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return m
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return map[string]interface{}{}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return map[string]interface{}{"Value": model}
	}

	t := v.Type()
	out := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		out[field.Name] = v.Field(i).Interface()
	}
	return out
}

// importGroup maps a configured import name to the corresponding
// builtin declarations, following the grouping documented in the
// builtin package.
func importGroup(name string) native.Declarations {
	switch strings.ToLower(name) {
	case "crypto":
		return native.Declarations{
			"hmacSHA1":   builtin.HmacSHA1,
			"hmacSHA256": builtin.HmacSHA256,
			"sha1":       builtin.Sha1,
			"sha256":     builtin.Sha256,
		}
	case "encoding":
		return native.Declarations{
			"base64":            builtin.Base64,
			"hex":               builtin.Hex,
			"marshalJSON":       builtin.MarshalJSON,
			"marshalJSONIndent": builtin.MarshalJSONIndent,
			"md5":               builtin.Md5,
			"unmarshalJSON":     builtin.UnmarshalJSON,
		}
	case "html":
		return native.Declarations{
			"htmlEscape": builtin.HtmlEscape,
		}
	case "math":
		return native.Declarations{
			"abs": builtin.Abs,
			"max": builtin.Max,
			"min": builtin.Min,
		}
	case "regexp":
		return native.Declarations{
			"Regexp": reflect.TypeOf(builtin.Regexp{}),
			"regexp": builtin.RegExp,
		}
	case "sort":
		return native.Declarations{
			"reverse": builtin.Reverse,
			"sort":    builtin.Sort,
		}
	case "strconv":
		return native.Declarations{
			"formatFloat": builtin.FormatFloat,
			"formatInt":   builtin.FormatInt,
			"parseFloat":  builtin.ParseFloat,
			"parseInt":    builtin.ParseInt,
		}
	case "strings":
		return native.Declarations{
			"abbreviate":    builtin.Abbreviate,
			"capitalize":    builtin.Capitalize,
			"capitalizeAll": builtin.CapitalizeAll,
			"hasPrefix":     builtin.HasPrefix,
			"hasSuffix":     builtin.HasSuffix,
			"index":         builtin.Index,
			"indexAny":      builtin.IndexAny,
			"join":          builtin.Join,
			"lastIndex":     builtin.LastIndex,
			"replace":       builtin.Replace,
			"replaceAll":    builtin.ReplaceAll,
			"runeCount":     builtin.RuneCount,
			"split":         builtin.Split,
			"splitAfter":    builtin.SplitAfter,
			"splitN":        builtin.SplitN,
			"sprint":        builtin.Sprint,
			"sprintf":       builtin.Sprintf,
			"toKebab":       builtin.ToKebab,
			"toLower":       builtin.ToLower,
			"toUpper":       builtin.ToUpper,
			"trim":          builtin.Trim,
			"trimLeft":      builtin.TrimLeft,
			"trimPrefix":    builtin.TrimPrefix,
			"trimRight":     builtin.TrimRight,
			"trimSuffix":    builtin.TrimSuffix,
		}
	case "time":
		return native.Declarations{
			"Duration":      reflect.TypeOf(builtin.Duration(0)),
			"Hour":          time.Hour,
			"Minute":        time.Minute,
			"Second":        time.Second,
			"Millisecond":   time.Millisecond,
			"Time":          reflect.TypeOf(builtin.Time{}),
			"date":          builtin.Date,
			"now":           builtin.Now,
			"parseDuration": builtin.ParseDuration,
			"parseTime":     builtin.ParseTime,
			"unixTime":      builtin.UnixTime,
		}
	}
	return nil
}
