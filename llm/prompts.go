package llm

import (
	"fmt"
	"strings"
)

const structureSystemPrompt = `You analyze HTML and return only CSS selectors that locate the title, ` +
	`main content, and optionally the author, publish date, and article container. ` +
	`Respond with a single JSON object matching this shape exactly, no prose: ` +
	`{"titleSelector":"","contentSelector":"","authorSelector":"","dateSelector":"",` +
	`"articleSelector":"","dateAlternatives":[],"confidence":0.0}. ` +
	`confidence is in [0.1, 1.0]. Never select attributes that hold literal text content ` +
	`instead of an element selector.`

func structurePrompt(html, url string) string {
	return fmt.Sprintf("URL: %s\n\nHTML:\n%s", url, PrepareHTML(html))
}

const contentSystemPrompt = `You extract the article title, body text, author, and publish date ` +
	`directly from HTML when CSS selectors have failed. Respond with a single JSON object matching ` +
	`this shape exactly, no prose: {"title":"","content":"","author":"","date":"YYYY-MM-DD",` +
	`"confidence":0.0}. Leave author/date empty if not present. confidence reflects how certain ` +
	`you are the extracted content is the actual article body, not navigation or boilerplate.`

func contentPrompt(html, url string) string {
	return fmt.Sprintf("URL: %s\n\nHTML:\n%s", url, PrepareHTML(html))
}

const linksSystemPrompt = `You are given candidate links from a listing page, each as title, href, ` +
	`and surrounding text context. Return a JSON array containing only the hrefs, taken verbatim ` +
	`from the input, that point to individual article pages rather than navigation, search, ` +
	`category, or login pages. Respond with only the JSON array, no prose.`

func linksPrompt(candidates []LinkCandidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "title: %s\nhref: %s\ncontext: %s\n\n", c.Title, c.Href, c.Context)
	}
	return b.String()
}
