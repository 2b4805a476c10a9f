// Package localization provides the localized user-facing notice
// strings the session pushes alongside its events. Translations can be
// extended from a directory of JSON files, one per language code.
package localization

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Notice keys used by the session layer.
const (
	KeySearching           = "notice.searching"
	KeyPartnerFound        = "notice.partner_found"
	KeyPartnerDisconnected = "notice.partner_disconnected"
	KeyNoPartner           = "notice.no_partner"
	KeyReportReceived      = "notice.report_received"
)

var defaults = map[string]map[string]string{
	"en": {
		KeySearching:           "Looking for a partner...",
		KeyPartnerFound:        "Partner found! Say hello.",
		KeyPartnerDisconnected: "Your partner disconnected.",
		KeyNoPartner:           "No partner available right now. Try again in a moment.",
		KeyReportReceived:      "Report submitted. Thank you.",
	},
	"uk": {
		KeySearching:           "Шукаємо співрозмовника...",
		KeyPartnerFound:        "Співрозмовника знайдено! Привітайтеся.",
		KeyPartnerDisconnected: "Співрозмовник від'єднався.",
		KeyNoPartner:           "Зараз немає вільних співрозмовників. Спробуйте пізніше.",
		KeyReportReceived:      "Скаргу надіслано. Дякуємо.",
	},
}

// Localizer resolves notice keys per language, falling back to English
// and then to the key itself.
type Localizer struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
}

// NewDefault returns a localizer with the built-in languages.
func NewDefault() *Localizer {
	t := make(map[string]map[string]string, len(defaults))
	for lang, m := range defaults {
		copied := make(map[string]string, len(m))
		for k, v := range m {
			copied[k] = v
		}
		t[lang] = copied
	}
	return &Localizer{translations: t}
}

// LoadDir merges JSON translation files named <lang>.json from path
// over the built-in strings.
func (l *Localizer) LoadDir(path string) error {
	files, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read localization directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		lang := strings.TrimSuffix(file.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(path, file.Name()))
		if err != nil {
			return fmt.Errorf("read localization file %s: %w", file.Name(), err)
		}
		var loaded map[string]string
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("parse localization file %s: %w", file.Name(), err)
		}

		if l.translations[lang] == nil {
			l.translations[lang] = make(map[string]string, len(loaded))
		}
		for k, v := range loaded {
			l.translations[lang][k] = v
		}
	}
	return nil
}

// Get returns the localized string for a key, falling back to English
// and finally the key itself.
func (l *Localizer) Get(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if m, ok := l.translations[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if lang != "en" {
		if v, ok := l.translations["en"][key]; ok {
			return v
		}
	}
	return key
}
