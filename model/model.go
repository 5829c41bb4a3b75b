// Package model defines the shared data types that flow between the fetch,
// structure, extraction, and scheduling subsystems.
package model

import "time"

// Source is a site the engine periodically scrapes for articles.
type Source struct {
	ID            string
	URL           string
	Name          string
	LastScrapedAt time.Time
	SelectorConfig *SelectorConfig
}

// ArticleFlags holds derived classification signals for an Article.
type ArticleFlags struct {
	Cybersecurity bool
	SecurityScore *float64
}

// Article is a single piece of content extracted from a Source.
type Article struct {
	ID          string
	SourceID    string
	URL         string
	Title       string
	Body        string
	Author      string
	PublishDate *time.Time
	Summary     string
	Tags        []string
	Flags       ArticleFlags

	// RawSnapshotKey optionally points at an object-storage key holding the
	// raw HTML that produced this article, for offline debugging.
	RawSnapshotKey *string
}

// SelectorConfig is the set of CSS selectors the Structure Engine detected
// (or fell back to) for a domain.
type SelectorConfig struct {
	TitleSelector            string
	ContentSelector          string
	AuthorSelector           string
	DateSelector             string
	ArticleContainerSelector string
	Alternatives             SelectorAlternatives
	Confidence               float64
}

// SelectorAlternatives holds secondary candidates the LLM proposed, tried
// when the primary selector fails validation.
type SelectorAlternatives struct {
	DateAlternatives []string
}

// ProtectionKind classifies the anti-bot behaviour observed on a fetch.
type ProtectionKind string

const (
	ProtectionNone             ProtectionKind = "none"
	ProtectionCloudflare       ProtectionKind = "cloudflare"
	ProtectionDatadome         ProtectionKind = "datadome"
	ProtectionRecaptcha        ProtectionKind = "recaptcha"
	ProtectionGenericChallenge ProtectionKind = "generic-challenge"
	ProtectionRateLimited      ProtectionKind = "rate-limited"
)

// ProtectionSignal is the derived classification of a remote server's
// anti-bot behaviour for a single fetch response. Never persisted.
type ProtectionSignal struct {
	Kind       ProtectionKind
	Confidence int // 0..100
	Indicators []string
}

// Blocking reports whether the signal is strong enough to justify
// advancing to the next fetch tier.
func (p ProtectionSignal) Blocking() bool {
	return p.Confidence >= 50
}

// FetchMethod names which tier produced a FetchOutcome.
type FetchMethod string

const (
	FetchMethodHTTP     FetchMethod = "http"
	FetchMethodHeadless FetchMethod = "headless"
)

// PageIntent tells the Fetch Engine which content-validation rules apply.
type PageIntent string

const (
	IntentSourcePage  PageIntent = "source"
	IntentArticlePage PageIntent = "article"
)

// FetchOutcome is the transient result of a tiered fetch attempt.
type FetchOutcome struct {
	Success    bool
	HTML       string
	FinalURL   string
	StatusCode int
	Protection ProtectionSignal
	Method     FetchMethod
}

// ForceMethod pins the Fetch Engine to a specific tier, bypassing adaptive
// selection. ForceMethodAuto preserves the default tiered strategy.
type ForceMethod string

const (
	ForceMethodAuto     ForceMethod = "auto"
	ForceMethodHTTP     ForceMethod = "http"
	ForceMethodHeadless ForceMethod = "headless"
)

// FetchOptions configures a single Fetch Engine call.
type FetchOptions struct {
	Intent           PageIntent
	ForceMethod      ForceMethod
	Timeout          time.Duration
	HandleDynamic    bool
	IncludePatterns  []string
	ExcludePatterns  []string
	MaxLinks         int
	AIContext        bool
}

// ErrorKind is the error taxonomy every component logs against.
type ErrorKind string

const (
	ErrorKindNetwork  ErrorKind = "network"
	ErrorKindParsing  ErrorKind = "parsing"
	ErrorKindAI       ErrorKind = "ai"
	ErrorKindHeadless ErrorKind = "headless"
	ErrorKindTimeout  ErrorKind = "timeout"
	ErrorKindAuth     ErrorKind = "auth"
	ErrorKindUnknown  ErrorKind = "unknown"
)

// ErrorLogRecord is an append-only diagnostic record.
type ErrorLogRecord struct {
	ID         string
	UserID     string
	SourceID   string
	SourceURL  string
	ArticleURL string
	Kind       ErrorKind
	Message    string
	Method     string
	Step       string
	RetryCount int
	Details    string
	Timestamp  time.Time
}

// ExtractionMethod names the recovery path an Extractor run took.
type ExtractionMethod string

const (
	MethodSelectors          ExtractionMethod = "selectors"
	MethodSelectorsVariation ExtractionMethod = "selectors+variation"
	MethodAIReanalysis       ExtractionMethod = "ai-reanalysis"
	MethodReadability        ExtractionMethod = "readability"
	MethodHeadlessPreExtracted ExtractionMethod = "headless-pre-extracted"
)

// MultiAttempt names the nth degraded-recovery rung ("multi-attempt-1", …).
func MultiAttempt(n int) ExtractionMethod {
	switch n {
	case 1:
		return "multi-attempt-1"
	case 2:
		return "multi-attempt-2"
	default:
		return "multi-attempt-3"
	}
}

// ArticleContent is the pure output of the Extractor, prior to persistence.
type ArticleContent struct {
	Title       string
	Body        string
	Author      string
	PublishDate *time.Time
	Method      ExtractionMethod
	Confidence  float64
}
