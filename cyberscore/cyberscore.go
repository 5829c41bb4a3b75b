// Package cyberscore classifies article text for cybersecurity relevance.
// Scoring is a weighted keyword-density pass over title and body, cheap
// enough to run on every ingested article with no external dependency.
package cyberscore

import (
	"math"
	"strings"
)

// threshold is the minimum score for Classify to flag an article as
// cybersecurity-related.
const threshold = 0.35

// titleWeight multiplies matches found in the title, since a keyword there
// is a stronger signal than the same keyword buried in body text.
const titleWeight = 3.0

// highValueTerms are strong, mostly unambiguous signals.
var highValueTerms = []string{
	"ransomware", "malware", "phishing", "data breach", "zero-day", "zero day",
	"cve-", "vulnerability", "exploit", "cyberattack", "cyber attack",
	"threat actor", "ddos", "botnet", "supply chain attack", "infostealer",
	"credential stuffing", "spyware", "rootkit", "backdoor", "apt group",
}

// supportingTerms are weaker signals that only matter in combination with a
// high-value term or each other; alone they're too generic (e.g. "security"
// shows up in unrelated contexts like "social security" or "job security").
var supportingTerms = []string{
	"security researcher", "patch", "cisa", "nist", "mitre att&ck",
	"penetration test", "incident response", "firewall", "encryption",
	"two-factor", "authentication bypass", "privilege escalation",
	"security flaw", "hacker", "hacked", "breach",
}

const (
	highValueScore    = 0.25
	supportingScore   = 0.08
	maxContributing   = 4 // cap term contributions so one keyword-stuffed article doesn't saturate the score
)

// Classify scores title+body for cybersecurity relevance, returning whether
// it crosses the flagging threshold and the raw score for storage.
func Classify(title, body string) (bool, float64) {
	score := scoreText(title, titleWeight) + scoreText(body, 1.0)
	score = math.Min(score, 1.0)
	return score >= threshold, score
}

func scoreText(text string, weight float64) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)

	var score float64
	var matches int

	for _, term := range highValueTerms {
		if matches >= maxContributing {
			break
		}
		if strings.Contains(lower, term) {
			score += highValueScore * weight
			matches++
		}
	}
	for _, term := range supportingTerms {
		if matches >= maxContributing {
			break
		}
		if strings.Contains(lower, term) {
			score += supportingScore * weight
			matches++
		}
	}

	return score
}
