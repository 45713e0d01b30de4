package ai

import (
	"fmt"
	"strings"

	"github.com/agent-sterling-go/pkg/textutil"
)

// Style names
const (
	StyleAuto        = "auto"
	StyleMeme        = "meme"
	StyleEntertainer = "entertainer"
	StyleInformative = "informative"
	StyleStoryteller = "storyteller"
	StyleAnalyst     = "analyst"
)

// styleKeywords are checked in this order; the first style with a matching
// keyword wins.
var styleKeywords = []struct {
	style    string
	keywords []string
}{
	{StyleMeme, []string{"meme", "lol", "lmao", "funny", "joke", "rofl", "vibe", "mood", "cursed", "wholesome"}},
	{StyleStoryteller, []string{"story", "once", "remember", "journey", "adventure", "happened", "yesterday", "childhood", "tale"}},
	{StyleAnalyst, []string{"data", "analysis", "market", "percent", "growth", "statistics", "report", "trend", "numbers", "forecast"}},
	{StyleInformative, []string{"how", "why", "what", "guide", "tutorial", "learn", "tips", "explain", "news", "update", "research"}},
}

var styleTemplates = map[string]string{
	StyleMeme: "Write a short meme-style post. Punchy, internet humor, one clever twist. " +
		"Use current meme formats only if they fit naturally.",
	StyleEntertainer: "Write a fun, witty post with a friendly tone. " +
		"Add a light pop culture reference if it fits naturally.",
	StyleInformative: "Write a clear, informative post that teaches one interesting fact or insight. " +
		"Keep it accessible and engaging.",
	StyleStoryteller: "Write a tiny story in one or two sentences with a beginning and a twist ending.",
	StyleAnalyst: "Write a sharp analytical take. Point out one pattern or implication " +
		"and state it confidently without jargon.",
}

// InferStyle picks a style from keywords in text, defaulting to entertainer
func InferStyle(text string) string {
	tokens := make(map[string]bool)
	for _, token := range textutil.Tokenize(text) {
		tokens[token] = true
	}
	for _, candidate := range styleKeywords {
		for _, keyword := range candidate.keywords {
			if tokens[keyword] {
				return candidate.style
			}
		}
	}
	return StyleEntertainer
}

// ResolveStyle returns style if it names a template, otherwise the inferred style
func ResolveStyle(style, text string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	if _, ok := styleTemplates[style]; ok {
		return style
	}
	return InferStyle(text)
}

func buildStyledPrompt(content, style string, useEmojis bool, maxLength int) string {
	var b strings.Builder
	b.WriteString(styleTemplates[style])
	b.WriteString("\n\nTopic or context:\n")
	b.WriteString(content)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "- Maximum %d characters\n", maxLength)
	if useEmojis {
		b.WriteString("- Include 1-2 fitting emojis\n")
	} else {
		b.WriteString("- Do not use emojis\n")
	}
	b.WriteString("- No hashtags, greetings, labels or quotation marks\n")
	b.WriteString("- Output only the post text")
	return b.String()
}
