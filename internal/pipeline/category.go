package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	CategoryAuto          = "auto"
	CategoryLearning      = "learning"
	CategorySocial        = "social"
	CategoryTravel        = "travel"
	CategoryHealth        = "health"
	CategoryEntertainment = "entertainment"
	CategoryGeneral       = "general"
)

var autoPattern = regexp.MustCompile(`(?i)(авто|машин|автомоб|car|bmw|toyota|mercedes|tesla)`)

var categoryPatterns = []struct {
	category string
	pattern  *regexp.Regexp
}{
	{category: CategoryLearning, pattern: regexp.MustCompile(`(?i)(learn|study|teach|education|курс|обучение)`)},
	{category: CategorySocial, pattern: regexp.MustCompile(`(?i)(friend|meet|people|social|друг|знакомств)`)},
	{category: CategoryTravel, pattern: regexp.MustCompile(`(?i)(travel|trip|journey|путешеств)`)},
	{category: CategoryHealth, pattern: regexp.MustCompile(`(?i)(health|fitness|sport|exercise|здоровь)`)},
	{category: CategoryEntertainment, pattern: regexp.MustCompile(`(?i)(music|art|movie|entertainment|музык|кино)`)},
}

var labels = map[string]string{
	CategoryAuto:          "market",
	CategoryLearning:      "knowledge",
	CategorySocial:        "connection",
	CategoryTravel:        "adventure",
	CategoryHealth:        "vitality",
	CategoryEntertainment: "fun",
	CategoryGeneral:       "magic",
}

// Categories classifies text by keyword. Auto wins outright; otherwise every
// matching category is returned in a fixed order, or general when none match.
func Categories(text string) []string {
	lowered := strings.ToLower(text)
	if autoPattern.MatchString(lowered) {
		return []string{CategoryAuto}
	}

	out := make([]string, 0, len(categoryPatterns))
	for _, entry := range categoryPatterns {
		if entry.pattern.MatchString(lowered) {
			out = append(out, entry.category)
		}
	}
	if len(out) == 0 {
		return []string{CategoryGeneral}
	}
	return out
}

func PrimaryCategory(text string) string {
	return Categories(text)[0]
}

// Label is the user-facing "magic type" of a category.
func Label(category string) string {
	if label, ok := labels[category]; ok {
		return label
	}
	return labels[CategoryGeneral]
}

// MatchedText renders the short blurb shown with a match, keyed by the first
// two words of the source text.
func MatchedText(text, category string) string {
	words := strings.Fields(text)
	key := "interest"
	if len(words) > 0 {
		key = strings.Join(words[:min(2, len(words))], " ")
	}

	switch category {
	case CategoryLearning:
		return fmt.Sprintf("I also want to learn: %s", key)
	case CategorySocial:
		return fmt.Sprintf("Looking for company for: %s", key)
	case CategoryTravel:
		return fmt.Sprintf("Dreaming about a trip: %s", key)
	case CategoryAuto:
		return fmt.Sprintf("Interested in cars: %s", key)
	default:
		return fmt.Sprintf("I'm also interested in: %s", key)
	}
}
