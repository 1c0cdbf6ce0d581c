package render

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	failure "github.com/hanpama/dtopipe/internal/failure"
)

// TokenOr is the token used as the conjunction of joined lists.
const TokenOr = "or"

type registration struct {
	cat      Catalog
	override bool
}

// Renderer turns failures into localized messages. It is safe for
// concurrent use.
type Renderer struct {
	source   Source
	defaults map[string]string
	resolver func() string
	logger   *zap.Logger

	mu         sync.RWMutex
	locale     string
	registered map[string][]registration
	merged     map[string]Catalog
	gen        uint64
}

type Option func(*Renderer)

// WithSource replaces the embedded base catalogs.
func WithSource(s Source) Option { return func(r *Renderer) { r.source = s } }

// WithLocale sets the active locale.
func WithLocale(loc string) Option { return func(r *Renderer) { r.locale = Canonical(loc) } }

// WithLocaleResolver consults fn when no locale was set explicitly.
func WithLocaleResolver(fn func() string) Option { return func(r *Renderer) { r.resolver = fn } }

// WithLanguageDefault names the locale to try for a bare language, such as
// "fr_FR" for "fr".
func WithLanguageDefault(lang, locale string) Option {
	return func(r *Renderer) { r.defaults[Language(Canonical(lang))] = Canonical(locale) }
}

func WithLogger(l *zap.Logger) Option { return func(r *Renderer) { r.logger = l } }

func New(opts ...Option) *Renderer {
	r := &Renderer{
		source:     Embedded(),
		defaults:   map[string]string{},
		logger:     zap.NewNop(),
		registered: map[string][]registration{},
		merged:     map[string]Catalog{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLocale sets the active locale. An empty locale restores resolution
// through the resolver and the platform.
func (r *Renderer) SetLocale(loc string) {
	r.mu.Lock()
	r.locale = Canonical(loc)
	r.mu.Unlock()
}

// Locale returns the active locale: the explicit setting, then the
// resolver, then the platform locale, then DefaultLocale.
func (r *Renderer) Locale() string {
	r.mu.RLock()
	loc := r.locale
	r.mu.RUnlock()
	if loc != "" {
		return loc
	}
	if r.resolver != nil {
		if loc := Canonical(r.resolver()); loc != "" {
			return loc
		}
	}
	if loc := platformLocale(); loc != "" {
		return loc
	}
	return DefaultLocale
}

// Register adds cat to locale's table. With override its entries replace
// existing ones; otherwise it only fills keys the locale does not define.
func (r *Renderer) Register(locale string, cat Catalog, override bool) {
	loc := Canonical(locale)
	if loc == "" {
		loc = DefaultLocale
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[loc] = append(r.registered[loc], registration{cat: cat.clone(), override: override})
	r.merged = map[string]Catalog{}
	r.gen++
}

// Fallbacks returns the locales consulted when rendering in locale, most
// specific first.
func (r *Renderer) Fallbacks(locale string) []string {
	loc := Canonical(locale)
	if loc == "" {
		loc = r.Locale()
	}
	r.mu.RLock()
	defaults := r.defaults
	r.mu.RUnlock()
	return fallbacks(loc, defaults, r.knownLocales())
}

func (r *Renderer) knownLocales() []string {
	set := map[string]struct{}{}
	if ll, ok := r.source.(LocaleLister); ok {
		locales, err := ll.Locales()
		if err != nil {
			r.logger.Warn("list catalog locales", zap.Error(err))
		}
		for _, l := range locales {
			set[l] = struct{}{}
		}
	}
	r.mu.RLock()
	for l := range r.registered {
		set[l] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Catalog returns the merged catalog for locale. Entries of more specific
// locales in the fallback chain win over generic ones.
func (r *Renderer) Catalog(locale string) (Catalog, error) {
	loc := Canonical(locale)
	if loc == "" {
		loc = r.Locale()
	}
	r.mu.RLock()
	c, ok := r.merged[loc]
	gen := r.gen
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	chain := r.Fallbacks(loc)
	var out Catalog
	for i := len(chain) - 1; i >= 0; i-- {
		c, err := r.localeCatalog(chain[i])
		if err != nil {
			return out, err
		}
		out.merge(c, true)
	}

	r.mu.Lock()
	if r.gen == gen {
		r.merged[loc] = out
	}
	r.mu.Unlock()
	r.logger.Debug("catalog merged", zap.String("locale", loc), zap.Strings("fallbacks", chain), zap.Int("messages", len(out.Messages)))
	return out, nil
}

// localeCatalog is the base catalog of loc with its registrations applied.
func (r *Renderer) localeCatalog(loc string) (Catalog, error) {
	base, err := r.source.Load(loc)
	if err != nil {
		return Catalog{}, fmt.Errorf("load catalog %s: %w", loc, err)
	}
	c := base.clone()
	r.mu.RLock()
	regs := r.registered[loc]
	r.mu.RUnlock()
	for _, reg := range regs {
		c.merge(reg.cat, reg.override)
	}
	return c, nil
}

// Render renders err in the active locale. Errors that are not pipeline
// failures render as their Error string.
func (r *Renderer) Render(err error) string { return r.RenderLocale("", err) }

// RenderLocale renders err in locale, or the active locale when empty.
func (r *Renderer) RenderLocale(locale string, err error) string {
	if err == nil {
		return ""
	}
	fe, ok := failure.As(err)
	if !ok {
		return err.Error()
	}
	cat, cerr := r.Catalog(locale)
	if cerr != nil {
		r.logger.Warn("catalog unavailable", zap.String("locale", locale), zap.Error(cerr))
	}
	return Format(cat, fe)
}

// RenderAll renders each failure in locale.
func (r *Renderer) RenderAll(locale string, failures []*failure.Error) []string {
	out := make([]string, len(failures))
	for i, fe := range failures {
		out[i] = r.RenderLocale(locale, fe)
	}
	return out
}

// Message renders fe in locale without its path.
func (r *Renderer) Message(locale string, fe *failure.Error) string {
	cat, err := r.Catalog(locale)
	if err != nil {
		r.logger.Warn("catalog unavailable", zap.String("locale", locale), zap.Error(err))
	}
	return FormatMessage(cat, fe)
}

// Format renders fe against cat and prefixes a non-empty path.
func Format(cat Catalog, fe *failure.Error) string {
	msg := FormatMessage(cat, fe)
	if fe.Path != "" {
		return fe.Path + ": " + msg
	}
	return msg
}

// FormatMessage looks the template up in cat, falling back to the key
// itself, then expands and substitutes the parameters.
func FormatMessage(cat Catalog, fe *failure.Error) string {
	msg, ok := cat.Messages[fe.Template]
	if !ok {
		msg = fe.Template
	}
	return interpolate(msg, expandParams(cat, fe.Params))
}

func expandParams(cat Catalog, params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	// Tokens may reference other parameters; those references see the
	// parameters without token expansion.
	raw := make(map[string]string, len(params))
	for k, v := range params {
		raw[k] = expand(cat, v, nil)
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = expand(cat, v, raw)
	}
	return out
}

func expand(cat Catalog, v any, raw map[string]string) string {
	if items, ok := listValue(v); ok {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = expand(cat, it, raw)
		}
		return JoinHuman(parts, conjunction(cat))
	}
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		if raw != nil {
			if tok, ok := cat.Tokens[x]; ok {
				return interpolate(tok, raw)
			}
		}
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func listValue(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return x, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func conjunction(cat Catalog) string {
	if or, ok := cat.Tokens[TokenOr]; ok && or != "" {
		return or
	}
	return TokenOr
}

// JoinHuman joins parts as "A", "A or B" or "A, B, or C".
func JoinHuman(parts []string, conj string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " " + conj + " " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", " + conj + " " + parts[len(parts)-1]
}

// interpolate substitutes :name placeholders. Longer names are matched
// first so ":min" never eats the prefix of ":minLength".
func interpolate(msg string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(msg, ":") {
		return msg
	}
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, ":"+k, values[k])
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
