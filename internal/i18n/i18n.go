// Package i18n provides the locale-aware printer used by the CLI.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages with a CLI catalog.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Catalog holds the translated CLI messages. Keys are the English format
// strings, so an untranslated key prints as itself.
var Catalog = newCatalog()

var german = map[string]string{
	"Usage: %s <command> [options]\n":           "Verwendung: %s <Befehl> [Optionen]\n",
	"Configuration is valid: %s\n":              "Konfiguration ist gültig: %s\n",
	"Configuration invalid: %v\n":               "Konfiguration ungültig: %v\n",
	"No changes.\n":                             "Keine Änderungen.\n",
	"Dry run: configuration not installed.\n":   "Probelauf: Konfiguration nicht installiert.\n",
	"Configuration installed to %s\n":           "Konfiguration installiert nach %s\n",
	"Reload signal sent to pid %d\n":            "Neuladesignal an PID %d gesendet\n",
	"Daemon failed: %v\n":                       "Dienst fehlgeschlagen: %v\n",
	"Status failed: %v\n":                       "Statusabfrage fehlgeschlagen: %v\n",
	"Reload failed: %v\n":                       "Neuladen fehlgeschlagen: %v\n",
	"Apply failed: %v\n":                        "Anwenden fehlgeschlagen: %v\n",
	"Unknown command: %s\n":                     "Unbekannter Befehl: %s\n",
	"Daemon not reachable at %s: %v\n":          "Dienst unter %s nicht erreichbar: %v\n",
	"No state recorded for provider %s yet.\n":  "Noch kein Zustand für Anbieter %s gespeichert.\n",
	"%d link(s), %d address(es), %d route(s)\n": "%d Schnittstelle(n), %d Adresse(n), %d Route(n)\n",
}

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(DefaultLang))
	for key := range german {
		b.SetString(language.English, key, key)
	}
	for key, msg := range german {
		b.SetString(language.German, key, msg)
	}
	return b
}

// MatchLanguage returns the best supported language for an
// Accept-Language style list.
func MatchLanguage(accept string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(accept)
	_, idx, _ := matcher.Match(tags...)
	return SupportedLangs[idx]
}

// NewPrinter returns a printer for tag backed by Catalog.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(Catalog))
}

// LocaleFromEnv returns the locale named by LC_ALL, LC_MESSAGES or LANG.
func LocaleFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// ParseLocale maps a POSIX locale such as "de_DE.UTF-8" to a supported tag.
func ParseLocale(locale string) language.Tag {
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return MatchLanguage(locale)
	}
	_, idx, _ := matcher.Match(tag)
	return SupportedLangs[idx]
}

// NewCLIPrinter returns a printer for the system's locale.
func NewCLIPrinter() *message.Printer {
	return NewPrinter(ParseLocale(LocaleFromEnv()))
}
