package types

import (
	"fmt"
	"time"
)

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ColumnConfig maps input table columns onto PaperReference fields.
type ColumnConfig struct {
	// Identifier names the record ID column.
	Identifier string `json:"identifier" yaml:"identifier"`

	// PaperRefs names one or more columns holding DOIs, URLs, or citations.
	PaperRefs []string `json:"paper_refs" yaml:"paper_refs"`

	// PreserveColumns are copied through to the output unchanged.
	PreserveColumns []string `json:"preserve_columns,omitempty" yaml:"preserve_columns,omitempty"`
}

// ProviderConfig selects one LLM provider and its call parameters. The same
// provider may be listed twice with different parameters as a relaxed retry.
type ProviderConfig struct {
	// Name is one of "claude", "openai", "gemini".
	Name string `json:"name" yaml:"name"`

	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// APIKey overrides the key found in the environment or .secrets/.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// LLMConfig holds settings for the extraction engine's provider calls.
type LLMConfig struct {
	// Providers is the priority order: primary first, then fallbacks.
	Providers []ProviderConfig `json:"providers" yaml:"providers"`

	// AcceptanceThreshold is the aggregate confidence that ends the fallback chain (default 0.7).
	AcceptanceThreshold float64 `json:"acceptance_threshold" yaml:"acceptance_threshold"`

	// MaxRetries bounds provider calls to MaxRetries+1 across all providers
	// (default 3). The cap wins over the provider list: with fewer calls than
	// providers, the trailing fallbacks are never asked.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the base backoff for transient provider errors (default 2s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// MaxInputChars is the document text size above which text is chunked by page.
	MaxInputChars int `json:"max_input_chars" yaml:"max_input_chars"`
}

// ExtractionConfig holds settings for extraction output and annotation.
type ExtractionConfig struct {
	// RequestSourceRefs asks providers for a verbatim quote and page per field.
	RequestSourceRefs bool `json:"request_source_refs" yaml:"request_source_refs"`

	AnnotatePDFs  bool   `json:"annotate_pdfs" yaml:"annotate_pdfs"`
	AnnotationDir string `json:"annotation_dir" yaml:"annotation_dir"`
	IncludeLegend bool   `json:"include_legend" yaml:"include_legend"`

	CacheDir     string `json:"cache_dir" yaml:"cache_dir"`
	CacheEnabled bool   `json:"cache_enabled" yaml:"cache_enabled"`

	// FuzzyFloor is the minimum trigram similarity for a partial span match (default 0.6).
	FuzzyFloor float64 `json:"fuzzy_floor" yaml:"fuzzy_floor"`
}

// SemanticScholarConfig holds Semantic Scholar API settings.
type SemanticScholarConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxResults is the number of search candidates scored per citation (default 5).
	MaxResults int `json:"max_results" yaml:"max_results"`

	// APIKey is an optional key for higher rate limits.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// ResolverConfig holds settings for citation resolution.
type ResolverConfig struct {
	SemanticScholar SemanticScholarConfig `json:"semantic_scholar" yaml:"semantic_scholar"`

	// UnpaywallEmail enables Unpaywall lookups; Unpaywall requires a contact address.
	UnpaywallEmail string `json:"unpaywall_email" yaml:"unpaywall_email"`

	// UseOpenAlex enables OpenAlex open-access lookups for DOIs.
	UseOpenAlex bool `json:"use_openalex" yaml:"use_openalex"`

	// MatchThreshold is the minimum similarity for a search match (default 0.5).
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`

	// AmbiguityMargin is how close the runner-up may score before the match
	// is rejected as ambiguous (default 0.05).
	AmbiguityMargin float64 `json:"ambiguity_margin" yaml:"ambiguity_margin"`

	// MaxRetries bounds retries of rate-limited calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the base backoff after HTTP 429 (default 5s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// DownloaderConfig holds settings for PDF acquisition.
type DownloaderConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxRetries bounds retries of transient failures per candidate URL (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the base backoff between retries of one URL (default 1s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	PDFDir       string `json:"pdf_dir" yaml:"pdf_dir"`
	SkipExisting bool   `json:"skip_existing" yaml:"skip_existing"`

	// MinBytes rejects responses too small to be a paper (default 1000).
	MinBytes int `json:"min_bytes" yaml:"min_bytes"`
}

// StageLimits sets the worker pool size of each stage.
type StageLimits struct {
	Resolve  int `json:"resolve" yaml:"resolve"`
	Acquire  int `json:"acquire" yaml:"acquire"`
	Extract  int `json:"extract" yaml:"extract"`
	Annotate int `json:"annotate" yaml:"annotate"`
}

// StageTimeouts bounds one operation of each stage.
type StageTimeouts struct {
	Resolve  time.Duration `json:"resolve" yaml:"resolve"`
	Acquire  time.Duration `json:"acquire" yaml:"acquire"`
	Extract  time.Duration `json:"extract" yaml:"extract"`
	Annotate time.Duration `json:"annotate" yaml:"annotate"`
}

// PipelineConfig holds coordinator scheduling settings.
type PipelineConfig struct {
	Concurrency StageLimits   `json:"concurrency" yaml:"concurrency"`
	Timeouts    StageTimeouts `json:"timeouts" yaml:"timeouts"`
}

// GeminiConfig locates the Vertex AI project used by the gemini provider.
type GeminiConfig struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Region    string `json:"region" yaml:"region"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// Config is the complete configuration for one extraction project.
type Config struct {
	ProjectName string `json:"project_name" yaml:"project_name"`
	InputFile   string `json:"input_file" yaml:"input_file"`
	OutputFile  string `json:"output_file" yaml:"output_file"`

	// ReportFile, when set, receives the JSON batch report.
	ReportFile string `json:"report_file,omitempty" yaml:"report_file,omitempty"`

	Schema     ExtractionSchema `json:"extraction_schema" yaml:"extraction_schema"`
	Columns    ColumnConfig     `json:"columns" yaml:"columns"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Resolver   ResolverConfig   `json:"resolver" yaml:"resolver"`
	Downloader DownloaderConfig `json:"downloader" yaml:"downloader"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`

	// RateLimits maps an API name ("semantic_scholar", "unpaywall",
	// "openalex", "provider:claude", ...) to requests per minute.
	RateLimits map[string]float64 `json:"rate_limits" yaml:"rate_limits"`

	Gemini  GeminiConfig  `json:"gemini" yaml:"gemini"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DefaultUserAgent is a browser User-Agent; several publishers refuse
// non-browser clients.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		ProjectName: "extraction",
		OutputFile:  "output/results.csv",
		Columns: ColumnConfig{
			Identifier: "id",
			PaperRefs:  []string{"reference"},
		},
		LLM: LLMConfig{
			AcceptanceThreshold: 0.7,
			MaxRetries:          3,
			RetryDelay:          2 * time.Second,
			MaxInputChars:       400_000,
		},
		Extraction: ExtractionConfig{
			RequestSourceRefs: true,
			AnnotationDir:     "annotations",
			IncludeLegend:     true,
			CacheDir:          ".cache",
			CacheEnabled:      true,
			FuzzyFloor:        0.6,
		},
		Resolver: ResolverConfig{
			SemanticScholar: SemanticScholarConfig{
				HTTPConfig: HTTPConfig{Timeout: 30 * time.Second, UserAgent: "extraction-engine/0.1"},
				MaxResults: 5,
			},
			UseOpenAlex:     true,
			MatchThreshold:  0.5,
			AmbiguityMargin: 0.05,
			MaxRetries:      3,
			RetryDelay:      5 * time.Second,
		},
		Downloader: DownloaderConfig{
			HTTPConfig:   HTTPConfig{Timeout: 60 * time.Second, UserAgent: DefaultUserAgent},
			MaxRetries:   2,
			RetryDelay:   time.Second,
			PDFDir:       "papers",
			SkipExisting: true,
			MinBytes:     1000,
		},
		Pipeline: PipelineConfig{
			Concurrency: StageLimits{Resolve: 4, Acquire: 4, Extract: 2, Annotate: 4},
			Timeouts: StageTimeouts{
				Resolve:  2 * time.Minute,
				Acquire:  5 * time.Minute,
				Extract:  10 * time.Minute,
				Annotate: time.Minute,
			},
		},
		RateLimits: map[string]float64{
			"semantic_scholar": 60,
			"unpaywall":        100,
			"openalex":         100,
		},
		Gemini:  GeminiConfig{Region: "us-central1"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultProvider is used when the config lists no providers.
var DefaultProvider = ProviderConfig{
	Name:        "claude",
	Model:       "claude-sonnet-4-5-20250929",
	Temperature: 0.1,
	MaxTokens:   4000,
}

// ApplyDefaults fills settings that cannot be expressed as zero-value
// defaults before decoding.
func (c *Config) ApplyDefaults() {
	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = []ProviderConfig{DefaultProvider}
	}
	for i := range c.LLM.Providers {
		if c.LLM.Providers[i].MaxTokens <= 0 {
			c.LLM.Providers[i].MaxTokens = DefaultProvider.MaxTokens
		}
	}
}

// Validate checks the settings a run cannot proceed without.
func (c *Config) Validate() error {
	if err := c.Schema.Validate(); err != nil {
		return fmt.Errorf("extraction_schema: %w", err)
	}
	if c.Columns.Identifier == "" {
		return fmt.Errorf("columns.identifier is required")
	}
	if len(c.Columns.PaperRefs) == 0 {
		return fmt.Errorf("columns.paper_refs needs at least one column")
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers needs at least one provider")
	}
	for i, p := range c.LLM.Providers {
		if p.Name == "" {
			return fmt.Errorf("llm.providers[%d]: name is required", i)
		}
	}
	if c.LLM.AcceptanceThreshold < 0 || c.LLM.AcceptanceThreshold > 1 {
		return fmt.Errorf("llm.acceptance_threshold %v out of range [0,1]", c.LLM.AcceptanceThreshold)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	return nil
}
