// Package vfs is the virtual file source for template discovery. It
// presents one tree assembled from an OS-backed root and an optional
// embedded source of packaged defaults, addressed by slash-separated
// virtual paths with a leading separator ("/views/hello.gohtml").
//
// OS files shadow embedded files at the same virtual path. Embedded
// files report a zero modification time so they are never considered
// stale.
package vfs

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileHandle is one discoverable template source file.
type FileHandle struct {
	// VirtualPath locates the file in the source tree, leading
	// separator included.
	VirtualPath string

	// Name is the file name without directory or extension. It is the
	// raw spelling from disk; lookup keys are case-folded by the
	// registry.
	Name string

	// ModTime is the last modification timestamp, zero for embedded
	// files.
	ModTime time.Time

	// Embedded marks files served from the packaged source.
	Embedded bool

	read func() (string, error)
}

// ReadAllText returns the file's full contents.
func (h FileHandle) ReadAllText() (string, error) {
	if h.read == nil {
		return "", os.ErrNotExist
	}
	return h.read()
}

// Source resolves virtual paths against an OS tree and an embedded
// fallback.
type Source struct {
	fsys      afero.Fs
	embedded  fs.FS
	viewDir   string
	sharedDir string
}

// Option configures a Source.
type Option func(*Source)

// WithEmbedded attaches a packaged source of default files.
func WithEmbedded(fsys fs.FS) Option {
	return func(s *Source) { s.embedded = fsys }
}

// WithViewDir sets the view root, relative to the source root.
func WithViewDir(dir string) Option {
	return func(s *Source) { s.viewDir = path.Clean(filepath.ToSlash(dir)) }
}

// WithSharedDir sets the shared subroot, relative to the view root.
func WithSharedDir(dir string) Option {
	return func(s *Source) { s.sharedDir = path.Clean(filepath.ToSlash(dir)) }
}

// New builds a Source over the given filesystem. The default layout is
// "views" with shared pages under "views/shared".
func New(fsys afero.Fs, opts ...Option) *Source {
	s := &Source{
		fsys:      fsys,
		viewDir:   "views",
		sharedDir: "shared",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOS builds a Source rooted at an OS directory.
func NewOS(root string, opts ...Option) *Source {
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), opts...)
}

// viewRoot returns the view root as a rooted virtual path prefix,
// "/views/".
func (s *Source) viewRoot() string {
	return "/" + s.viewDir + "/"
}

// sharedRoot returns the shared subroot prefix, "/views/shared/".
func (s *Source) sharedRoot() string {
	return "/" + path.Join(s.viewDir, s.sharedDir) + "/"
}

// IsViewPath reports whether the path lies under the view root. The
// shared subroot counts as part of the view root; callers that care
// check IsSharedPath first.
func (s *Source) IsViewPath(vpath string) bool {
	return strings.HasPrefix(strings.ToLower(vpath), strings.ToLower(s.viewRoot()))
}

// IsSharedPath reports whether the path lies under the shared subroot.
func (s *Source) IsSharedPath(vpath string) bool {
	return strings.HasPrefix(strings.ToLower(vpath), strings.ToLower(s.sharedRoot()))
}

// ListFiles enumerates every file with the given extension (without
// dot, case-insensitive). OS files come first; embedded defaults under
// the view root follow, minus any shadowed by an OS file at the same
// virtual path.
func (s *Source) ListFiles(ext string) ([]FileHandle, error) {
	var handles []FileHandle
	seen := make(map[string]bool)

	if s.fsys != nil {
		err := afero.Walk(s.fsys, ".", func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if skippableDir(info.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !matchExt(p, ext) {
				return nil
			}
			vpath := toVirtual(p)
			seen[strings.ToLower(vpath)] = true
			handles = append(handles, s.osHandle(vpath, info.ModTime()))
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if s.embedded != nil {
		err := fs.WalkDir(s.embedded, ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !matchExt(p, ext) {
				return nil
			}
			vpath := toVirtual(p)
			// Embedded pages participate in discovery only under the
			// view root; other packaged content resolves lazily by
			// request path.
			if !s.IsViewPath(vpath) {
				return nil
			}
			if seen[strings.ToLower(vpath)] {
				return nil
			}
			handles = append(handles, s.embeddedHandle(vpath))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return handles, nil
}

// Open resolves one virtual path, OS tree first, embedded second.
func (s *Source) Open(vpath string) (FileHandle, bool) {
	name := strings.TrimPrefix(path.Clean("/"+vpath), "/")
	if name == "" {
		return FileHandle{}, false
	}

	if s.fsys != nil {
		if info, err := s.fsys.Stat(name); err == nil && !info.IsDir() {
			return s.osHandle(toVirtual(name), info.ModTime()), true
		}
	}

	return s.OpenEmbedded(name)
}

// OpenEmbedded resolves a path against the packaged source only. The
// name must not carry a leading separator.
func (s *Source) OpenEmbedded(name string) (FileHandle, bool) {
	if s.embedded == nil || !fs.ValidPath(name) {
		return FileHandle{}, false
	}
	info, err := fs.Stat(s.embedded, name)
	if err != nil || info.IsDir() {
		return FileHandle{}, false
	}
	return s.embeddedHandle(toVirtual(name)), true
}

func (s *Source) osHandle(vpath string, modTime time.Time) FileHandle {
	fsys := s.fsys
	name := strings.TrimPrefix(vpath, "/")
	return FileHandle{
		VirtualPath: vpath,
		Name:        baseName(vpath),
		ModTime:     modTime,
		read: func() (string, error) {
			data, err := afero.ReadFile(fsys, name)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

func (s *Source) embeddedHandle(vpath string) FileHandle {
	fsys := s.embedded
	name := strings.TrimPrefix(vpath, "/")
	return FileHandle{
		VirtualPath: vpath,
		Name:        baseName(vpath),
		Embedded:    true,
		read: func() (string, error) {
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	}
}

// toVirtual converts a walked path to a rooted virtual path.
func toVirtual(p string) string {
	return "/" + strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "/")
}

// baseName returns the file name without extension.
func baseName(vpath string) string {
	base := path.Base(vpath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// matchExt matches a path against an extension without dot,
// case-insensitively.
func matchExt(p string, ext string) bool {
	got := strings.TrimPrefix(path.Ext(filepath.ToSlash(p)), ".")
	return strings.EqualFold(got, ext)
}

// skippableDir filters directories that never hold template sources.
func skippableDir(name string) bool {
	switch name {
	case "node_modules", "vendor", ".git", ".svn", ".hg":
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}
