// Package langdetect tags listing descriptions with their ISO 639-1 language.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 20

// listingLanguages bounds detection to the languages listings are published in.
var listingLanguages = []lingua.Language{
	lingua.Spanish,
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Dutch,
	lingua.Swedish,
	lingua.Bokmal,
	lingua.Danish,
	lingua.Finnish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Russian,
	lingua.Polish,
	lingua.Catalan,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DescriptionLanguage returns the ISO 639-1 code of a description, or nil
// when the text is too short or the language is undetermined.
func DescriptionLanguage(text *string) *string {
	if text == nil {
		return nil
	}
	code := DetectISO6391(*text)
	if code == "" {
		return nil
	}
	return &code
}

func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(listingLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
