package textutil

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	breakPattern   = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	urlPattern     = regexp.MustCompile(`https?://\S+|www\.\S+`)
	newlinePattern = regexp.MustCompile(`\n{3,}`)
)

// CleanHTML removes HTML tags, URLs and redundant whitespace from a status body
func CleanHTML(text string) string {
	if text == "" {
		return ""
	}
	text = breakPattern.ReplaceAllString(text, " ")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = urlPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// MarkdownToPlain renders model output written in markdown as plain toot text
func MarkdownToPlain(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	// Convert markdown to HTML using blackfriday
	rendered := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	rendered = strings.ReplaceAll(rendered, "<li>", "• ")
	rendered = strings.ReplaceAll(rendered, "</li>", "\n")
	rendered = breakPattern.ReplaceAllString(rendered, "\n")
	rendered = tagPattern.ReplaceAllString(rendered, "")
	rendered = html.UnescapeString(rendered)

	lines := strings.Split(rendered, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	rendered = strings.Join(lines, "\n")

	// Clean up extra newlines
	rendered = newlinePattern.ReplaceAllString(rendered, "\n\n")

	return strings.TrimSpace(rendered)
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the first n tokens that are not English stopwords
func Keywords(text string, n int) []string {
	keywords := make([]string, 0, n)
	seen := make(map[string]bool)
	for _, token := range Tokenize(text) {
		if len(keywords) == n {
			break
		}
		if stopwords[token] || seen[token] || len([]rune(token)) < 2 {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}
	return keywords
}

// TruncateAtWord shortens text to at most max runes, cutting at the last
// space when one falls in the second half of the budget.
func TruncateAtWord(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	truncated := runes[:max]
	cut := -1
	for i := len(truncated) - 1; i >= 0; i-- {
		if unicode.IsSpace(truncated[i]) {
			cut = i
			break
		}
	}
	if cut > max/2 {
		truncated = truncated[:cut]
	}
	return strings.TrimRightFunc(string(truncated), unicode.IsSpace)
}

// Jaccard returns the word-set overlap of a and b, in [0, 1]
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range Tokenize(text) {
		set[token] = true
	}
	return set
}

var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and", "any", "are",
	"as", "at", "be", "because", "been", "before", "being", "below", "between", "both", "but",
	"by", "can", "did", "do", "does", "doing", "don", "down", "during", "each", "few", "for",
	"from", "further", "had", "has", "have", "having", "he", "her", "here", "hers", "herself",
	"him", "himself", "his", "how", "i", "if", "in", "into", "is", "it", "its", "itself", "just",
	"me", "more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off", "on", "once",
	"only", "or", "other", "our", "ours", "ourselves", "out", "over", "own", "same", "she",
	"should", "so", "some", "such", "than", "that", "the", "their", "theirs", "them",
	"themselves", "then", "there", "these", "they", "this", "those", "through", "to", "too",
	"under", "until", "up", "very", "was", "we", "were", "what", "when", "where", "which",
	"while", "who", "whom", "why", "will", "with", "you", "your", "yours", "yourself",
	"yourselves", "s", "t", "ll", "re", "ve", "m", "d",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
