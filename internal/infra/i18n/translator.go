package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator holds one flat key/format table per language.
type Translator struct {
	langs    map[string]map[string]string
	fallback string
}

// NewTranslator loads every locales/<lang>.yaml found in fsys. The fallback
// language must be among them.
func NewTranslator(fsys fs.FS, fallback string) (*Translator, error) {
	files, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list locales: %w", err)
	}
	t := &Translator{langs: make(map[string]map[string]string, len(files)), fallback: fallback}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read translation file %s: %w", f, err)
		}
		table, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse translation file %s: %w", f, err)
		}
		t.langs[strings.TrimSuffix(path.Base(f), ".yaml")] = table
	}
	if _, ok := t.langs[fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %q not found", fallback)
	}
	return t, nil
}

func parse(data []byte) (map[string]string, error) {
	var table map[string]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// T formats key in lang. Unknown languages and missing keys fall back to the
// default language, then to the key itself.
func (t *Translator) T(lang, key string, args ...interface{}) string {
	format, ok := t.lookup(lang, key)
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) lookup(lang, key string) (string, bool) {
	if table, ok := t.langs[normalize(lang)]; ok {
		if f, ok := table[key]; ok {
			return f, true
		}
	}
	f, ok := t.langs[t.fallback][key]
	return f, ok
}

// Languages lists the loaded language tags.
func (t *Translator) Languages() []string {
	out := make([]string, 0, len(t.langs))
	for l := range t.langs {
		out = append(out, l)
	}
	return out
}

// normalize reduces "ru-RU" style tags to "ru".
func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
