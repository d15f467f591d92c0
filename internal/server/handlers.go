package server

import (
	stderrors "errors"
	"net/http"
	"path"
	"strings"

	"github.com/a-h/templ"

	"github.com/viewmill/viewmill/internal/assets"
	"github.com/viewmill/viewmill/internal/errors"
	"github.com/viewmill/viewmill/internal/executor"
	"github.com/viewmill/viewmill/internal/version"
)

// PageHandler returns a handler that renders the page matching the
// request and hands everything else to next. With next nil, misses
// get the packaged fallbacks: the welcome page on the root path, a
// diagnostics page when the path names a page that failed to compile,
// and a 404 page otherwise.
func (s *Server) PageHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.TryRenderPage(w, r) {
			return
		}
		if next != nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path == "/" {
			s.writeComponent(w, r, http.StatusOK, assets.Welcome(version.GetVersion()))
			return
		}
		if srcPath, diags := s.diagnosticsFor(r.URL.Path); len(diags) > 0 {
			s.writeComponent(w, r, http.StatusInternalServerError, assets.DiagnosticsPage(srcPath, diags))
			return
		}
		s.writeComponent(w, r, http.StatusNotFound, assets.NotFound(r.URL.Path))
	})
}

// TryRenderPage renders the page resolved for the request path and
// reports whether anything matched. A false return writes nothing, so
// the caller can fall through to its own handling. Render failures of
// a matched page are reported as an error page and count as handled.
func (s *Server) TryRenderPage(w http.ResponseWriter, r *http.Request) bool {
	key := r.URL.RequestURI()
	cacheable := s.cache != nil && r.Method == http.MethodGet

	if cacheable {
		if body, ok := s.cache.get(key); ok {
			s.writeHTML(w, r, http.StatusOK, body)
			return true
		}
	}

	model := requestModel(r)

	for _, name := range pageCandidates(r.URL.Path) {
		out, err := s.exec.Render(r.Context(), name, model, executor.WithRequest(r))
		if err != nil {
			if stderrors.Is(err, errors.ErrNoEngine) {
				continue
			}
			s.log.Error(r.Context(), err, "page render failed", "page", name)
			s.writeComponent(w, r, http.StatusInternalServerError, assets.ErrorPage(name, r.URL.Path, err))
			return true
		}

		body := out.Bytes()
		if s.reg.Watching() {
			body = injectReloadScript(body)
		}
		s.writeHTML(w, r, http.StatusOK, body)
		if cacheable {
			s.cache.put(key, body)
		}
		out.Close()
		return true
	}

	return false
}

// pageCandidates lists the lookup names tried for a URL path: the
// rooted path itself for content pages and source paths, and for
// single-segment paths the bare name so views and shared views
// resolve too. The root path maps to the content index and then an
// "index" view.
func pageCandidates(urlPath string) []string {
	p := path.Clean("/" + strings.TrimPrefix(urlPath, "/"))
	if p == "/" {
		return []string{"/", "index"}
	}

	candidates := []string{p}
	if trimmed := strings.TrimPrefix(p, "/"); !strings.Contains(trimmed, "/") {
		candidates = append(candidates, trimmed)
	}
	return candidates
}

// diagnosticsFor scans the collected compile diagnostics for ones
// belonging to the requested path, so a browser asking for a broken
// page sees its diagnostics instead of a bare 404.
func (s *Server) diagnosticsFor(urlPath string) (string, []errors.Diagnostic) {
	p := strings.ToLower(path.Clean("/" + strings.TrimPrefix(urlPath, "/")))
	name := strings.TrimPrefix(p, "/")

	var srcPath string
	var matched []errors.Diagnostic
	for _, d := range s.reg.Diagnostics() {
		dp := strings.ToLower(d.Path)
		base := strings.TrimSuffix(path.Base(dp), path.Ext(dp))
		noExt := strings.TrimSuffix(dp, path.Ext(dp))
		if dp != p && noExt != p && base != name {
			continue
		}
		if srcPath == "" {
			srcPath = d.Path
		}
		if strings.EqualFold(d.Path, srcPath) {
			matched = append(matched, d)
		}
	}
	return srcPath, matched
}

// requestModel exposes the query string to the page as its model, one
// entry per parameter. Handy for exercising template logic from the
// browser during development.
func requestModel(r *http.Request) map[string]interface{} {
	query := r.URL.Query()
	model := make(map[string]interface{}, len(query))
	for k := range query {
		model[k] = query.Get(k)
	}
	return model
}

func (s *Server) writeHTML(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Debug(r.Context(), "response write failed", "path", r.URL.Path, "error", err)
	}
}

func (s *Server) writeComponent(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	var b strings.Builder
	if err := c.Render(r.Context(), &b); err != nil {
		s.log.Error(r.Context(), err, "builtin page render failed", "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeHTML(w, r, status, []byte(b.String()))
}
