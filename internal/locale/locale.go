// Package locale holds the user-facing message catalog.
//
// Messages live in yaml files keyed by locale code (en_US, ru_RU ...). The en_US
// catalog is compiled into the binary; a lang/<locale>.yaml file next to the
// executable takes precedence so translations ship without a rebuild.
package locale

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const Fallback = "en_US"

//go:embed lang/*.yaml
var embedded embed.FS

type Locale struct {
	translations map[string]string
	locale       string
}

var (
	mu           sync.RWMutex
	globalLocale *Locale
)

// InitLocale initializes the global locale from the system environment.
// dir is searched before the embedded catalogs; empty means lang/ next to the executable.
func InitLocale(dir string) error {
	if dir == "" {
		dir = DefaultDir()
	}
	code := DetectSystemLocale()

	l, err := LoadLocale(dir, code)
	if err != nil {
		l, err = LoadLocale(dir, Fallback)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", Fallback, err)
		}
	}

	Use(l)
	return nil
}

// DefaultDir is lang/ beside the running executable.
func DefaultDir() string {
	exePath, err := os.Executable()
	if err != nil {
		return "lang"
	}
	return filepath.Join(filepath.Dir(exePath), "lang")
}

// DetectSystemLocale detects the user's locale from LANG, LC_ALL then LC_MESSAGES.
func DetectSystemLocale() string {
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if v := os.Getenv(env); v != "" {
			// en_US.UTF-8 -> en_US
			if code := strings.Split(v, ".")[0]; code != "" && code != "C" && code != "POSIX" {
				return code
			}
		}
	}
	return Fallback
}

// LoadLocale reads <dir>/<code>.yaml, falling back to the embedded catalog of the same code.
func LoadLocale(dir, code string) (*Locale, error) {
	file := filepath.Join(dir, code+".yaml")
	data, err := os.ReadFile(file)
	if err != nil {
		data, err = embedded.ReadFile("lang/" + code + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("no catalog for locale %s", code)
		}
		file = "embedded:" + code
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", file, err)
	}

	return &Locale{translations: translations, locale: code}, nil
}

// Use installs l as the global catalog. nil uninstalls it.
func Use(l *Locale) {
	mu.Lock()
	globalLocale = l
	mu.Unlock()
}

// T translates key, formatting params with fmt verbs. Missing keys return the key.
func T(key string, params ...any) string {
	mu.RLock()
	l := globalLocale
	mu.RUnlock()

	if l == nil {
		return key
	}
	translation, ok := l.translations[key]
	if !ok {
		return key
	}
	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}

// GetLocale returns the current locale code.
func GetLocale() string {
	mu.RLock()
	defer mu.RUnlock()
	if globalLocale == nil {
		return Fallback
	}
	return globalLocale.locale
}

// Keys lists the keys of the catalog.
func (l *Locale) Keys() []string {
	keys := make([]string, 0, len(l.translations))
	for k := range l.translations {
		keys = append(keys, k)
	}
	return keys
}
