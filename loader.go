package moostache

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Loader comprises the behaviors required of a type to be able to
// supply compiled templates to the rendering engine, both for top-level
// renders and for {{> partial }} tags. Rendering with a nil Loader is
// allowed; every lookup then fails with ErrTemplateNotFound, which is
// the right fit for templates without partials.
type Loader interface {
	// Get returns the compiled template registered under name, or an
	// error with kind ErrTemplateNotFound when there is none. Lazy
	// implementations may also surface I/O and parse errors.
	Get(name string) (*Template, error)
	// Insert registers a compiled template under name and returns the
	// template it replaced, if any.
	Insert(name string, tmpl *Template) *Template
	// Remove drops the template registered under name and returns it,
	// if any.
	Remove(name string) *Template
}

// LoaderConfig configures the directory-backed loaders. The directory
// is normalized to end with the platform separator and the extension to
// start with a dot, so an extension of "html" means ".html".
type LoaderConfig struct {
	TemplatesDirectory string
	TemplatesExtension string
	CacheSize          int
}

// DefaultLoaderConfig returns the default loader configuration:
// templates under "./templates/" with the ".html" extension and a cache
// size of 200.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		TemplatesDirectory: "./templates/",
		TemplatesExtension: ".html",
		CacheSize:          200,
	}
}

// normalize validates the config and returns the normalized directory
// and extension.
func (c LoaderConfig) normalize() (dir, ext string, err error) {
	dir = c.TemplatesDirectory
	if !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}
	ext = c.TemplatesExtension
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if c.CacheSize <= 0 {
		return "", "", &Error{Kind: ErrNonPositiveCacheSize}
	}
	info, statErr := os.Stat(dir)
	if statErr != nil || !info.IsDir() {
		return "", "", &Error{Kind: ErrInvalidTemplatesDirectory, Path: dir}
	}
	return dir, ext, nil
}

// Render looks up name in loader and renders it against value,
// returning the output.
func Render(loader Loader, name string, value any) (string, error) {
	var buf strings.Builder
	if err := FRender(&buf, loader, name, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FRender looks up name in loader and renders it against value to out.
func FRender(out io.Writer, loader Loader, name string, value any) error {
	if loader == nil {
		return &Error{Kind: ErrTemplateNotFound, Name: name}
	}
	tmpl, err := loader.Get(name)
	if err != nil {
		return err
	}
	return tmpl.FRender(out, loader, value)
}

// RenderSerializable converts data to the JSON-shaped value tree, then
// looks up name in loader and renders it, returning the output.
func RenderSerializable(loader Loader, name string, data any) (string, error) {
	value, err := toValue(data)
	if err != nil {
		return "", err
	}
	return Render(loader, name, value)
}

// FRenderSerializable converts data to the JSON-shaped value tree, then
// looks up name in loader and renders it to out.
func FRenderSerializable(out io.Writer, loader Loader, name string, data any) error {
	value, err := toValue(data)
	if err != nil {
		return err
	}
	return FRender(out, loader, name, value)
}

// HashMapLoader implements Loader by holding an eagerly parsed set of
// templates in a map. Construction parses everything up front, so Get
// never does I/O and is safe for concurrent use as long as Insert and
// Remove are not called.
type HashMapLoader struct {
	templates map[string]*Template
}

// NewHashMapLoader parses each source in the given name→source mapping
// and returns a loader holding the full set. A parse error propagates
// with the offending name attached.
func NewHashMapLoader(sources map[string]string) (*HashMapLoader, error) {
	templates := make(map[string]*Template, len(sources))
	for name, source := range sources {
		tmpl, err := ParseString(source)
		if err != nil {
			return nil, withName(err, name)
		}
		templates[name] = tmpl
	}
	return &HashMapLoader{templates: templates}, nil
}

// HashMapLoaderFromConfig walks the configured directory recursively
// and eagerly parses every file carrying the configured extension. The
// template name is the file path relative to the directory with the
// extension stripped. Loading more templates than CacheSize fails with
// ErrTooManyTemplates.
func HashMapLoaderFromConfig(config LoaderConfig) (*HashMapLoader, error) {
	dir, ext, err := config.normalize()
	if err != nil {
		return nil, err
	}
	templates := make(map[string]*Template)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// unreadable entries are skipped, not fatal
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !utf8.ValidString(path) {
			return &Error{Kind: ErrNonUTF8FilePath, Path: path}
		}
		if !strings.HasSuffix(path, ext) {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		name := strings.TrimSuffix(rel, ext)
		source, readErr := os.ReadFile(path)
		if readErr != nil {
			return ioErr(name, readErr)
		}
		tmpl, err := ParseString(string(source))
		if err != nil {
			return withName(err, name)
		}
		templates[name] = tmpl
		if len(templates) > config.CacheSize {
			return &Error{Kind: ErrTooManyTemplates}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &HashMapLoader{templates: templates}, nil
}

// Get returns the template registered under name.
func (l *HashMapLoader) Get(name string) (*Template, error) {
	tmpl, ok := l.templates[name]
	if !ok {
		return nil, &Error{Kind: ErrTemplateNotFound, Name: name}
	}
	return tmpl, nil
}

// Insert registers tmpl under name, returning any replaced template.
func (l *HashMapLoader) Insert(name string, tmpl *Template) *Template {
	prev := l.templates[name]
	l.templates[name] = tmpl
	return prev
}

// Remove drops the template registered under name.
func (l *HashMapLoader) Remove(name string) *Template {
	prev := l.templates[name]
	delete(l.templates, name)
	return prev
}

var _ Loader = (*HashMapLoader)(nil)

// FileLoader implements Loader by lazily reading and parsing template
// files under a directory, keeping the most recently used compiled
// templates in an LRU cache bounded by the configured CacheSize. The
// cache and the internal path buffer are mutated even on Get, so a
// FileLoader is not safe for concurrent use; confine it to one
// goroutine or wrap it in a mutex.
type FileLoader struct {
	templatesDirectory string
	templatesExtension string
	// scratch buffer for assembling file paths across Get calls
	pathBuf   []byte
	templates *lru.Cache[string, *Template]
}

// NewFileLoader validates config and returns a FileLoader with an empty
// cache.
func NewFileLoader(config LoaderConfig) (*FileLoader, error) {
	dir, ext, err := config.normalize()
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *Template](config.CacheSize)
	if err != nil {
		return nil, &Error{Kind: ErrNonPositiveCacheSize}
	}
	return &FileLoader{
		templatesDirectory: dir,
		templatesExtension: ext,
		templates:          cache,
	}, nil
}

// Get returns the template named name, reading and parsing
// <dir>/<name><ext> on a cache miss. Hits promote the entry to most
// recently used; misses insert, evicting the least recently used entry
// when the cache is full.
func (l *FileLoader) Get(name string) (*Template, error) {
	if tmpl, ok := l.templates.Get(name); ok {
		return tmpl, nil
	}
	l.pathBuf = l.pathBuf[:0]
	l.pathBuf = append(l.pathBuf, l.templatesDirectory...)
	l.pathBuf = append(l.pathBuf, name...)
	l.pathBuf = append(l.pathBuf, l.templatesExtension...)
	source, err := os.ReadFile(string(l.pathBuf))
	if err != nil {
		return nil, ioErr(name, err)
	}
	tmpl, err := ParseString(string(source))
	if err != nil {
		return nil, withName(err, name)
	}
	l.templates.Add(name, tmpl)
	return tmpl, nil
}

// Insert places tmpl in the cache under name, returning any replaced
// template.
func (l *FileLoader) Insert(name string, tmpl *Template) *Template {
	prev, _ := l.templates.Peek(name)
	l.templates.Add(name, tmpl)
	return prev
}

// Remove drops name from the cache.
func (l *FileLoader) Remove(name string) *Template {
	prev, ok := l.templates.Peek(name)
	if !ok {
		return nil
	}
	l.templates.Remove(name)
	return prev
}

var _ Loader = (*FileLoader)(nil)
