package render

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned when a catalog file has an unsupported
// extension.
var ErrUnknownFormat = errors.New("render: unknown catalog format")

// Catalog holds the message templates and reusable parameter tokens of one
// locale.
type Catalog struct {
	Messages map[string]string `yaml:"messages" toml:"messages"`
	Tokens   map[string]string `yaml:"tokens" toml:"tokens"`
}

// Empty reports whether the catalog has no entries.
func (c Catalog) Empty() bool { return len(c.Messages) == 0 && len(c.Tokens) == 0 }

func (c Catalog) clone() Catalog {
	out := Catalog{
		Messages: make(map[string]string, len(c.Messages)),
		Tokens:   make(map[string]string, len(c.Tokens)),
	}
	for k, v := range c.Messages {
		out.Messages[k] = v
	}
	for k, v := range c.Tokens {
		out.Tokens[k] = v
	}
	return out
}

// merge copies src into c. With override, src wins on conflicting keys;
// otherwise only missing keys are filled.
func (c *Catalog) merge(src Catalog, override bool) {
	if c.Messages == nil {
		c.Messages = map[string]string{}
	}
	if c.Tokens == nil {
		c.Tokens = map[string]string{}
	}
	mergeTable(c.Messages, src.Messages, override)
	mergeTable(c.Tokens, src.Tokens, override)
}

func mergeTable(dst, src map[string]string, override bool) {
	for k, v := range src {
		if _, exists := dst[k]; exists && !override {
			continue
		}
		dst[k] = v
	}
}

// DecodeCatalog parses a YAML or TOML catalog file, chosen by name's
// extension.
func DecodeCatalog(name string, data []byte) (Catalog, error) {
	var c Catalog
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Catalog{}, fmt.Errorf("decode %s: %w", name, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &c); err != nil {
			return Catalog{}, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		return Catalog{}, fmt.Errorf("%s: %w", name, ErrUnknownFormat)
	}
	return c, nil
}

// Source supplies base catalogs by locale. A locale the source knows
// nothing about yields an empty catalog, not an error.
type Source interface {
	Load(locale string) (Catalog, error)
}

// LocaleLister is implemented by sources that can enumerate their locales.
type LocaleLister interface {
	Locales() ([]string, error)
}

// FSSource reads catalogs from one directory per locale. Every YAML or TOML
// file in the directory contributes, in file name order; other files are
// ignored.
type FSSource struct {
	fsys fs.FS
}

func NewFSSource(fsys fs.FS) *FSSource { return &FSSource{fsys: fsys} }

func (s *FSSource) Load(locale string) (Catalog, error) {
	entries, err := fs.ReadDir(s.fsys, locale)
	if errors.Is(err, fs.ErrNotExist) {
		return Catalog{}, nil
	}
	if err != nil {
		return Catalog{}, err
	}
	var out Catalog
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := path.Join(locale, e.Name())
		data, err := fs.ReadFile(s.fsys, name)
		if err != nil {
			return Catalog{}, err
		}
		c, err := DecodeCatalog(name, data)
		if errors.Is(err, ErrUnknownFormat) {
			continue
		}
		if err != nil {
			return Catalog{}, err
		}
		out.merge(c, true)
	}
	return out, nil
}

func (s *FSSource) Locales() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}
	var locales []string
	for _, e := range entries {
		if e.IsDir() {
			locales = append(locales, Canonical(e.Name()))
		}
	}
	return locales, nil
}

// MapSource serves catalogs from memory.
type MapSource map[string]Catalog

func (m MapSource) Load(locale string) (Catalog, error) { return m[locale], nil }

func (m MapSource) Locales() ([]string, error) {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Layered stacks sources; later sources override earlier ones.
type Layered []Source

func (l Layered) Load(locale string) (Catalog, error) {
	var out Catalog
	for _, s := range l {
		c, err := s.Load(locale)
		if err != nil {
			return Catalog{}, err
		}
		out.merge(c, true)
	}
	return out, nil
}

func (l Layered) Locales() ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range l {
		ll, ok := s.(LocaleLister)
		if !ok {
			continue
		}
		locales, err := ll.Locales()
		if err != nil {
			return nil, err
		}
		for _, loc := range locales {
			if _, dup := seen[loc]; !dup {
				seen[loc] = struct{}{}
				out = append(out, loc)
			}
		}
	}
	return out, nil
}

//go:embed catalogs
var embedded embed.FS

// Embedded returns the built-in catalogs.
func Embedded() *FSSource {
	sub, err := fs.Sub(embedded, "catalogs")
	if err != nil {
		panic(err)
	}
	return NewFSSource(sub)
}
