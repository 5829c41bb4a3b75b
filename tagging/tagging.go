// Package tagging derives lightweight keyword tags from article body text
// by frequency, so every stored Article carries a searchable Tags list
// without requiring a model call.
package tagging

import (
	"sort"
	"strings"
	"unicode"
)

const maxTags = 8

// Extract returns up to maxTags frequency-ranked keyword tokens from text,
// longest-title-weighted by also scanning title at weight 2.
func Extract(title, body string) []string {
	counts := make(map[string]int)
	for _, tok := range tokenize(title) {
		counts[tok] += 2
	}
	for _, tok := range tokenize(body) {
		counts[tok]++
	}
	if len(counts) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})

	if len(tokens) > maxTags {
		tokens = tokens[:maxTags]
	}
	return tokens
}

// tokenize splits text into normalized, stop-word-filtered tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		if len(token) >= 3 && !isStopWord(token) {
			tokens = append(tokens, token)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

func isStopWord(token string) bool {
	stopWords := map[string]bool{
		"the": true, "and": true, "for": true, "are": true, "was": true,
		"were": true, "this": true, "that": true, "with": true, "from": true,
		"has": true, "have": true, "had": true, "its": true, "but": true,
		"not": true, "you": true, "your": true, "about": true, "into": true,
		"after": true, "also": true, "been": true, "more": true, "can": true,
	}
	return stopWords[token]
}
