package translation

import "sort"

type languageLabel struct {
	english string
	native  string
}

var translationLanguageLabels = map[string]languageLabel{
	"ar": {english: "Arabic", native: "العربية"},
	"de": {english: "German", native: "Deutsch"},
	"en": {english: "English", native: "English"},
	"es": {english: "Spanish", native: "Español"},
	"fr": {english: "French", native: "Français"},
	"it": {english: "Italian", native: "Italiano"},
	"ja": {english: "Japanese", native: "日本語"},
	"ka": {english: "Georgian", native: "ქართული"},
	"kk": {english: "Kazakh", native: "Қазақ"},
	"ko": {english: "Korean", native: "한국어"},
	"pl": {english: "Polish", native: "Polski"},
	"pt": {english: "Portuguese", native: "Português"},
	"ru": {english: "Russian", native: "Русский"},
	"tr": {english: "Turkish", native: "Türkçe"},
	"uk": {english: "Ukrainian", native: "Українська"},
	"zh": {english: "Chinese", native: "中文"},
}

func SupportedTranslationLanguageCodes() []string {
	codes := make([]string, 0, len(translationLanguageLabels))
	for code := range translationLanguageLabels {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// LanguageName returns the English name of code, or code itself when unknown.
func LanguageName(code string) string {
	normalized := normalizeLangCode(code)
	if labels, ok := translationLanguageLabels[normalized]; ok {
		return labels.english
	}
	return normalized
}
