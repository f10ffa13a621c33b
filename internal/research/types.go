// Package research defines core types shared across subsystems.
package research

import "time"

// JobStatus represents the lifecycle state of a research job.
type JobStatus string

// Job status values persisted in the job store. Transitions only move
// forward; Reset is the single sanctioned way back to JobStatusInitializing.
const (
	JobStatusInitializing    JobStatus = "initializing"
	JobStatusFetching        JobStatus = "fetching"
	JobStatusProcessing      JobStatus = "processing"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusReportGenerated JobStatus = "report_generated"
	JobStatusError           JobStatus = "error"
)

// statusRank orders the forward path. Error is reachable from any
// non-terminal state and is handled separately.
var statusRank = map[JobStatus]int{
	JobStatusInitializing:    0,
	JobStatusFetching:        1,
	JobStatusProcessing:      2,
	JobStatusCompleted:       3,
	JobStatusReportGenerated: 4,
}

// CanTransition reports whether moving from one status to another follows
// the forward-only lifecycle.
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusError {
		// A completed job can still fail during analysis or compilation;
		// only the final states refuse the error transition.
		return from != JobStatusReportGenerated && from != JobStatusError
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusReportGenerated, JobStatusError:
		return true
	default:
		return false
	}
}

// Target is the research input: a URL, or a company name with an optional
// website hint.
type Target struct {
	URL     string `json:"url,omitempty"`
	Company string `json:"company,omitempty"`
	Website string `json:"website,omitempty"`
}

// IsZero reports whether the target carries no input at all.
func (t Target) IsZero() bool {
	return t.URL == "" && t.Company == ""
}

// LogLevel classifies job log entries.
type LogLevel string

// Supported log levels.
const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of the per-job activity log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
}

// CategoryStatus tracks one analysis category within a fan-out job.
type CategoryStatus string

// Category task states. A category never re-enters pending.
const (
	CategoryPending    CategoryStatus = "pending"
	CategoryProcessing CategoryStatus = "processing"
	CategoryCompleted  CategoryStatus = "completed"
	CategoryError      CategoryStatus = "error"
)

// IsTerminal reports whether the category has settled.
func (s CategoryStatus) IsTerminal() bool {
	return s == CategoryCompleted || s == CategoryError
}

// TokenUsage counts tokens consumed by a completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Prices configures completion-service cost estimation per 1000 tokens.
type Prices struct {
	PromptPer1K     float64 `mapstructure:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `mapstructure:"completion_per_1k" json:"completion_per_1k"`
}

// Cost estimates the dollar spend for the given usage.
func (p Prices) Cost(u TokenUsage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K +
		float64(u.CompletionTokens)/1000*p.CompletionPer1K
}

// CategoryTask is one independent sub-analysis of a fan-out job.
type CategoryTask struct {
	Category  string         `json:"category"`
	Status    CategoryStatus `json:"status"`
	Result    string         `json:"result,omitempty"`
	Usage     TokenUsage     `json:"usage,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Job represents the metadata persisted for each submitted research request.
type Job struct {
	ID          string                   `json:"id"`
	Target      Target                   `json:"target"`
	Status      JobStatus                `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Error       string                   `json:"error,omitempty"`
	ErrorStage  string                   `json:"error_stage,omitempty"`
	Progress    int                      `json:"progress"`
	Logs        []LogEntry               `json:"logs,omitempty"`
	Categories  map[string]*CategoryTask `json:"categories,omitempty"`
	// AutoAnalyze chains the category fan-out after the summary stage
	// without a separate analyze call.
	AutoAnalyze bool `json:"auto_analyze,omitempty"`
	// ReadyForCompilation flips once categories are all terminal; it is
	// never recomputed false.
	ReadyForCompilation bool `json:"ready_for_compilation,omitempty"`
	// ResolvedURL is the URL actually fetched (target URL, website hint,
	// or a discovered official website).
	ResolvedURL string `json:"resolved_url,omitempty"`
	ContentURI  string     `json:"content_uri,omitempty"`
	SummaryURI  string     `json:"summary_uri,omitempty"`
	ReportURI   string     `json:"report_uri,omitempty"`
	Usage       TokenUsage `json:"usage"`
}

// Link is one anchor extracted from a page, URL resolved against the
// fetch target.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Image is one image extracted from a page.
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt"`
}

// ExtractedContent is the immutable output of the extraction stage.
type ExtractedContent struct {
	URL         string            `json:"url"`
	ContentType string            `json:"content_type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Keywords    string            `json:"keywords"`
	Author      string            `json:"author"`
	Social      map[string]string `json:"social,omitempty"`
	H1          []string          `json:"h1,omitempty"`
	H2          []string          `json:"h2,omitempty"`
	H3          []string          `json:"h3,omitempty"`
	Links       []Link            `json:"links,omitempty"`
	Images      []Image           `json:"images,omitempty"`
	RawBody     string            `json:"raw_body,omitempty"`
	// ContentHash is the SHA-256 digest of the fetched body, used to detect
	// content changes between runs of the same target.
	ContentHash string `json:"content_hash,omitempty"`
}

// Report is returned by the result endpoint once compilation has run.
type Report struct {
	JobID      string     `json:"job_id"`
	Text       string     `json:"text"`
	Usage      TokenUsage `json:"usage"`
	Categories []string   `json:"categories"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FetchRequest captures everything needed to fetch a URL once.
type FetchRequest struct {
	URL       string
	UserAgent string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
	Rendered    bool
}

// CompletionRequest is one call to the external completion service.
type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// CompletionResult carries the generated text plus token accounting.
type CompletionResult struct {
	Text  string
	Model string
	Usage TokenUsage
}
