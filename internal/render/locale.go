package render

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is the last entry of every fallback chain.
const DefaultLocale = "en"

// Canonical normalizes a locale identifier to "ll" or "ll_RR". Encoding
// and modifier suffixes ("fr_CA.UTF-8@euro") are dropped. It returns "" for
// empty input and for the C/POSIX locales.
func Canonical(loc string) string {
	loc = strings.TrimSpace(loc)
	if i := strings.IndexAny(loc, ".@"); i >= 0 {
		loc = loc[:i]
	}
	if loc == "" || loc == "C" || loc == "POSIX" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(loc, "_", "-"))
	if err != nil {
		return strings.ToLower(loc)
	}
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact {
		return base.String() + "_" + region.String()
	}
	return base.String()
}

// Language returns the bare language of a canonical locale.
func Language(loc string) string {
	if i := strings.IndexByte(loc, '_'); i >= 0 {
		return loc[:i]
	}
	return loc
}

// platformLocale reads the POSIX locale variables in precedence order.
func platformLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if loc := Canonical(os.Getenv(key)); loc != "" {
			return loc
		}
	}
	return ""
}

// fallbacks lists the locales consulted for loc, most specific first:
// the locale itself, its bare language, the configured default for the
// language, the first other known region variant, and DefaultLocale. Each
// appears once.
func fallbacks(loc string, defaults map[string]string, known []string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(l string) {
		if l == "" {
			return
		}
		if _, dup := seen[l]; dup {
			return
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	lang := Language(loc)
	add(loc)
	add(lang)
	add(Canonical(defaults[lang]))
	for _, k := range known {
		if _, dup := seen[k]; !dup && Language(k) == lang {
			add(k)
			break
		}
	}
	add(DefaultLocale)
	return out
}
