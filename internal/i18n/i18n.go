// Package i18n selects the message printer used for command line output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported language for a locale or
// Accept-Language style list.
func MatchLanguage(accept string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(accept)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// LocaleFromEnv returns the locale named by LC_ALL, LC_MESSAGES or LANG
// without its encoding suffix.
func LocaleFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" && v != "C" && v != "POSIX" {
			if i := strings.IndexAny(v, ".@"); i != -1 {
				v = v[:i]
			}
			return strings.ReplaceAll(v, "_", "-")
		}
	}
	return ""
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	lang := LocaleFromEnv()
	if lang == "" {
		return message.NewPrinter(DefaultLang)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return message.NewPrinter(MatchLanguage(lang))
	}
	tag, _, _ = matcher.Match(tag)
	return message.NewPrinter(tag)
}
