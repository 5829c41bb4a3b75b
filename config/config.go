// Package config defines the engine's YAML-driven configuration:
// deployment tuning, LLM credentials, browser discovery, and per-domain
// fetch overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"
)

// DefaultUserAgent is used when no UA pool entry has been selected yet.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// ResourceMode tunes how aggressively the engine spends CPU/memory on the
// headless tier and worker concurrency.
type ResourceMode string

const (
	ResourceModeHighPerformance     ResourceMode = "high_performance"
	ResourceModeBalanced            ResourceMode = "balanced"
	ResourceModeResourceConservative ResourceMode = "resource_conservative"
)

// LLMProvider selects which concrete LLM backend satisfies llm.Client.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
)

// Config is the top-level engine configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Headless  HeadlessConfig  `yaml:"headless"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Robots    RobotsConfig    `yaml:"robots"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	OpsAPI    OpsAPIConfig    `yaml:"ops_api"`
	Sites     []SiteOverride  `yaml:"sites"`
	Sources   []SourceSeed    `yaml:"sources"`
}

// SourceSeed bootstraps the reference in-memory repository with the
// sources to scrape. The relational persistence layer this stands in
// for lives outside this module.
type SourceSeed struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// OpsAPIConfig configures the optional health/status/trigger HTTP surface.
type OpsAPIConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ListenAddr        string        `yaml:"listen_addr"`
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	RedisURL          string        `yaml:"redis_url"`
}

// GetListenAddr returns the ops API bind address, default ":8090".
func (o OpsAPIConfig) GetListenAddr() string {
	if o.ListenAddr != "" {
		return o.ListenAddr
	}
	return ":8090"
}

// GetRateLimitRequests returns the per-window request cap, default 60.
func (o OpsAPIConfig) GetRateLimitRequests() int {
	if o.RateLimitRequests > 0 {
		return o.RateLimitRequests
	}
	return 60
}

// GetRateLimitWindow returns the rate-limit window, default 1 minute.
func (o OpsAPIConfig) GetRateLimitWindow() time.Duration {
	if o.RateLimitWindow > 0 {
		return o.RateLimitWindow
	}
	return time.Minute
}

// RateLimitConfig defines per-domain rate limiting for the fetch engine's
// HTTP tier; LLM provider calls do not pass through the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"`
	Burst             int           `yaml:"burst,omitempty"`
	Delay             time.Duration `yaml:"delay,omitempty"`
	MaxConcurrent     int           `yaml:"max_concurrent,omitempty"`
	RespectRetryAfter bool          `yaml:"respect_retry_after,omitempty"`
}

// GetDelay returns the minimum delay between requests.
func (r *RateLimitConfig) GetDelay() time.Duration {
	if r.Delay > 0 {
		return r.Delay
	}
	if r.RequestsPerSecond > 0 {
		return time.Duration(float64(time.Second) / r.RequestsPerSecond)
	}
	return 0
}

// IsEnabled reports whether any rate limiting is configured.
func (r *RateLimitConfig) IsEnabled() bool {
	return r.RequestsPerSecond > 0 || r.Delay > 0 || r.MaxConcurrent > 0 || r.RespectRetryAfter
}

// GetMaxConcurrent returns the per-domain concurrency cap, default unlimited.
func (r *RateLimitConfig) GetMaxConcurrent() int {
	if r.MaxConcurrent <= 0 {
		return 0
	}
	return r.MaxConcurrent
}

// RetryConfig defines exponential-backoff retry behaviour, shared by the
// fetch engine and the LLM client.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
	Multiplier   float64       `yaml:"multiplier,omitempty"`
	RetryOn      []int         `yaml:"retry_on,omitempty"`
}

// IsEnabled reports whether retries are configured.
func (r *RetryConfig) IsEnabled() bool {
	return r.MaxRetries > 0
}

// GetMaxRetries returns the retry count, default 0.
func (r *RetryConfig) GetMaxRetries() int {
	if r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}

// GetInitialDelay returns the first-retry delay, default 1s.
func (r *RetryConfig) GetInitialDelay() time.Duration {
	if r.InitialDelay > 0 {
		return r.InitialDelay
	}
	return time.Second
}

// GetMaxDelay returns the backoff ceiling, default 30s.
func (r *RetryConfig) GetMaxDelay() time.Duration {
	if r.MaxDelay > 0 {
		return r.MaxDelay
	}
	return 30 * time.Second
}

// GetMultiplier returns the backoff multiplier, default 2.0.
func (r *RetryConfig) GetMultiplier() float64 {
	if r.Multiplier > 0 {
		return r.Multiplier
	}
	return 2.0
}

// GetRetryOn returns the retryable status codes, default
// [429, 500, 502, 503, 504].
func (r *RetryConfig) GetRetryOn() []int {
	if len(r.RetryOn) > 0 {
		return r.RetryOn
	}
	return []int{429, 500, 502, 503, 504}
}

// ShouldRetry reports whether statusCode is configured as retryable.
func (r *RetryConfig) ShouldRetry(statusCode int) bool {
	for _, code := range r.GetRetryOn() {
		if code == statusCode {
			return true
		}
	}
	return false
}

// SchedulerConfig tunes the periodic orchestrator.
type SchedulerConfig struct {
	IntervalHours      int `yaml:"interval_hours"`
	ConcurrencyPerSource int `yaml:"concurrency_per_source"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// GetIntervalHours returns the scrape interval, default 3h per spec.
func (s SchedulerConfig) GetIntervalHours() int {
	if s.IntervalHours > 0 {
		return s.IntervalHours
	}
	return 3
}

// GetConcurrencyPerSource returns the per-source worker pool size, default 3.
func (s SchedulerConfig) GetConcurrencyPerSource() int {
	if s.ConcurrencyPerSource > 0 {
		return s.ConcurrencyPerSource
	}
	return 3
}

// GetMaxConsecutiveFailures returns the circuit-breaker threshold, default 3.
func (s SchedulerConfig) GetMaxConsecutiveFailures() int {
	if s.MaxConsecutiveFailures > 0 {
		return s.MaxConsecutiveFailures
	}
	return 3
}

// FetchConfig tunes the tiered fetch engine.
type FetchConfig struct {
	MaxConcurrentRequests        int          `yaml:"max_concurrent_requests"`
	RequestTimeoutMs             int          `yaml:"request_timeout_ms"`
	EnableAdvancedFingerprinting bool         `yaml:"enable_advanced_fingerprinting"`
	ResourceMode                 ResourceMode `yaml:"resource_mode"`
	UserAgents                   []string     `yaml:"user_agents"`
}

// GetRequestTimeout returns the per-request timeout, default 30s per spec §4.1.
func (f FetchConfig) GetRequestTimeout() time.Duration {
	if f.RequestTimeoutMs > 0 {
		return time.Duration(f.RequestTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// GetMaxConcurrentRequests returns the process-wide concurrent-request cap.
func (f FetchConfig) GetMaxConcurrentRequests() int {
	if f.MaxConcurrentRequests > 0 {
		return f.MaxConcurrentRequests
	}
	return 10
}

// GetResourceMode returns the configured resource mode, default balanced.
func (f FetchConfig) GetResourceMode() ResourceMode {
	if f.ResourceMode == "" {
		return ResourceModeBalanced
	}
	return f.ResourceMode
}

// GetUserAgents returns the configured UA pool, or a realistic built-in
// default pool of modern Chrome/Safari strings.
func (f FetchConfig) GetUserAgents() []string {
	if len(f.UserAgents) > 0 {
		return f.UserAgents
	}
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
	}
}

// HeadlessConfig tunes the headless-browser tier.
type HeadlessConfig struct {
	BrowserPaths        []string `yaml:"browser_paths"`
	VirtualDisplay       bool     `yaml:"virtual_display"`
	MaxOpenPages         int      `yaml:"max_open_pages"`
	DefaultPageTimeoutMs int      `yaml:"default_page_timeout_ms"`
}

// GetBrowserPaths returns configured browser search paths, falling back to
// the common install locations checked in order before a PATH lookup.
func (h HeadlessConfig) GetBrowserPaths() []string {
	if len(h.BrowserPaths) > 0 {
		return h.BrowserPaths
	}
	return []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
}

// GetMaxOpenPages returns the open-page cap, default 5 per spec §4.1.2.
func (h HeadlessConfig) GetMaxOpenPages() int {
	if h.MaxOpenPages > 0 {
		return h.MaxOpenPages
	}
	return 5
}

// GetDefaultPageTimeout returns the per-page timeout, default 60s.
func (h HeadlessConfig) GetDefaultPageTimeout() time.Duration {
	if h.DefaultPageTimeoutMs > 0 {
		return time.Duration(h.DefaultPageTimeoutMs) * time.Millisecond
	}
	return 60 * time.Second
}

// LLMConfig selects and authenticates the structured-extraction provider.
type LLMConfig struct {
	Provider LLMProvider `yaml:"provider"`
	APIKey   string      `yaml:"api_key"`
	BaseURL  string      `yaml:"base_url"`
	Model    string      `yaml:"model"`
}

// ResolveAPIKey prefers an explicit config value, falling back to the
// provider's conventional environment variable.
func (l LLMConfig) ResolveAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	switch l.Provider {
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
}

// CacheConfig configures the selector cache backend.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// RobotsConfig tunes the robots.txt politeness layer consulted before
// either fetch tier is attempted.
type RobotsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	UserAgent string        `yaml:"user_agent"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// GetUserAgent returns the agent string used both for the robots.txt
// request itself and for matching its User-agent groups, default
// DefaultUserAgent.
func (r RobotsConfig) GetUserAgent() string {
	if r.UserAgent != "" {
		return r.UserAgent
	}
	return DefaultUserAgent
}

// GetCacheTTL returns how long parsed robots.txt rules are cached per
// host, default 1 hour.
func (r RobotsConfig) GetCacheTTL() time.Duration {
	if r.CacheTTL > 0 {
		return r.CacheTTL
	}
	return time.Hour
}

// SnapshotConfig configures the optional S3-compatible raw-HTML archiver.
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// SiteOverride customizes fetch behaviour for URLs matching Pattern
// (matched against the host: the host itself or any subdomain of it, or,
// when the pattern ends in "*", any host starting with the rest).
type SiteOverride struct {
	Pattern         string   `yaml:"pattern"`
	ForceHeadless   bool     `yaml:"force_headless"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Matches reports whether host satisfies the override's pattern.
func (s SiteOverride) Matches(host string) bool {
	host = strings.ToLower(host)
	pattern := strings.ToLower(s.Pattern)
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(host, strings.TrimSuffix(pattern, "*"))
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// New returns a Config with sensible defaults, suitable when no YAML file
// is supplied.
func New() *Config {
	return &Config{}
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Scheduler.IntervalHours < 0 {
		return fmt.Errorf("scheduler.interval_hours must be >= 0")
	}
	if c.Scheduler.ConcurrencyPerSource < 0 {
		return fmt.Errorf("scheduler.concurrency_per_source must be >= 0")
	}
	if c.Fetch.RequestTimeoutMs < 0 {
		return fmt.Errorf("fetch.request_timeout_ms must be >= 0")
	}
	switch c.Fetch.ResourceMode {
	case "", ResourceModeHighPerformance, ResourceModeBalanced, ResourceModeResourceConservative:
	default:
		return fmt.Errorf("fetch.resource_mode must be one of high_performance, balanced, resource_conservative")
	}
	switch c.LLM.Provider {
	case "", LLMProviderAnthropic, LLMProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, openai")
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RequestsPerSecond == 0 && c.RateLimit.Delay == 0 {
		return fmt.Errorf("rate_limit.burst requires requests_per_second or delay")
	}
	for i, site := range c.Sites {
		if site.Pattern == "" {
			return fmt.Errorf("sites[%d]: pattern cannot be empty", i)
		}
	}
	return nil
}

// OverrideFor returns the first SiteOverride whose pattern matches host.
func (c *Config) OverrideFor(host string) (SiteOverride, bool) {
	for _, site := range c.Sites {
		if site.Matches(host) {
			return site, true
		}
	}
	return SiteOverride{}, false
}
