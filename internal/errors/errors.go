// Package errors defines the failure classes of the page registry and
// rendering pipeline.
//
// Failures split into two families: per-page failures that are isolated
// and logged so one broken template never takes down discovery or
// serving, and configuration-shape failures that are fatal at startup.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrNoEngine is returned when a render was requested for a name that
// no registered back-end claims. Distinct from a resolution miss: the
// page may exist, but nothing can execute it.
var ErrNoEngine = stderrors.New("no back-end claims the requested page")

// ErrNotPrepared is returned when a page's renderer is requested before
// any compilation has succeeded for it.
var ErrNotPrepared = stderrors.New("page is not prepared")

// Diagnostic is one structured compiler message.
type Diagnostic struct {
	Path    string
	Line    int
	Column  int
	Message string
}

// String formats the diagnostic as file:line:column: message.
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", d.Path, d.Line, d.Column, d.Message)
	}
	if d.Path != "" {
		return fmt.Sprintf("%s: %s", d.Path, d.Message)
	}
	return d.Message
}

// CompileError reports that a back-end rejected a page's source. It
// carries the structured diagnostics so callers can print them or show
// them on a diagnostics page. A page failing with a CompileError is
// not indexed.
type CompileError struct {
	Page        string
	Path        string
	Engine      string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "compile %q", e.Page)
	if e.Engine != "" {
		fmt.Fprintf(&b, " (%s)", e.Engine)
	}
	b.WriteString(": ")
	switch len(e.Diagnostics) {
	case 0:
		b.WriteString("compilation failed")
	case 1:
		b.WriteString(e.Diagnostics[0].String())
	default:
		fmt.Fprintf(&b, "%s (and %d more)", e.Diagnostics[0], len(e.Diagnostics)-1)
	}
	return b.String()
}

// AsCompileError unwraps err to a *CompileError if one is in its chain.
func AsCompileError(err error) (*CompileError, bool) {
	var ce *CompileError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// PrepareError reports a non-compiler failure while preparing a page
// (source read, token substitution, back-end registration). The
// registry answers it by installing an error-substitute entry under
// the page's name.
type PrepareError struct {
	Page string
	Path string
	Err  error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %q (%s): %v", e.Page, e.Path, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }

// ReloadError reports a failed recompilation of an already-serving
// page. The previous compiled artifact stays in place; the page keeps
// serving stale output.
type ReloadError struct {
	Page string
	Path string
	Err  error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload %q (%s): %v", e.Page, e.Path, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

// DuplicateError reports two source files mapping to the same logical
// page identity. Fatal during discovery.
type DuplicateError struct {
	Name string
	Kind string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate page registration: %q already registered as %s", e.Name, e.Kind)
}

// IsDuplicate reports whether err is a duplicate-registration failure.
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return stderrors.As(err, &de)
}
