// Package memory provides the domain model for per-user agent memory:
// prioritized observations, per-agent memory configuration, and the
// bookkeeping records of background extraction runs.
package memory

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority classifies how aggressively an observation must survive token
// budgets and eviction. Red observations are never auto-evicted, yellow
// survive when budget allows, green are background context and the only
// tier the quota and retention passes touch.
type Priority string

const (
	PriorityRed    Priority = "red"
	PriorityYellow Priority = "yellow"
	PriorityGreen  Priority = "green"
)

// ValidPriorities lists all valid observation priorities.
var ValidPriorities = []Priority{PriorityRed, PriorityYellow, PriorityGreen}

// Rank returns the sort rank of a priority (red < yellow < green).
func (p Priority) Rank() int {
	switch p {
	case PriorityRed:
		return 0
	case PriorityYellow:
		return 1
	default:
		return 2
	}
}

// Type categorizes what kind of observation was recorded.
type Type string

const (
	TypePreference  Type = "preference"
	TypeFact        Type = "fact"
	TypeContext     Type = "context"
	TypeDecision    Type = "decision"
	TypeInteraction Type = "interaction"
)

// ValidTypes lists all valid observation types.
var ValidTypes = []Type{TypePreference, TypeFact, TypeContext, TypeDecision, TypeInteraction}

// Observation is a single fact the agent has learned about one user,
// scoped to one agent. Content, priority and type are immutable once
// stored: corrections are modeled as a new observation whose SupersedesID
// points at the old record, which is deactivated in the same step.
type Observation struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	AgentID         string     `json:"agent_id"`
	Type            Type       `json:"type"`
	Priority        Priority   `json:"priority"`
	Content         string     `json:"content"`
	ContentSummary  string     `json:"content_summary,omitempty"`
	ObservedAt      time.Time  `json:"observed_at"`
	ReferencedAt    *time.Time `json:"referenced_at,omitempty"`
	SourceSessionID string     `json:"source_session_id,omitempty"`
	SupersedesID    string     `json:"supersedes_id,omitempty"`
	IsActive        bool       `json:"is_active"`
	Confidence      float64    `json:"confidence"`
	AccessCount     int        `json:"access_count"`
	LastAccessedAt  *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Config holds per-agent memory settings. A config row is created lazily
// on the first update; reads fall back to Default.
type Config struct {
	AgentID                string    `json:"agent_id"`
	Enabled                bool      `json:"enabled"`
	ExtractionInstructions string    `json:"extraction_instructions,omitempty"`
	MaxMemoriesPerUser     int       `json:"max_memories_per_user"`
	RetentionDays          int       `json:"retention_days"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Default config values.
const (
	DefaultMaxMemoriesPerUser = 100
	DefaultRetentionDays      = 90
)

// DefaultConfig returns the memory config used for agents without a stored row.
func DefaultConfig(agentID string) *Config {
	return &Config{
		AgentID:            agentID,
		Enabled:            true,
		MaxMemoriesPerUser: DefaultMaxMemoriesPerUser,
		RetentionDays:      DefaultRetentionDays,
	}
}

// ConfigUpdate is a partial update to a Config. Nil fields are left unchanged.
type ConfigUpdate struct {
	Enabled                *bool   `json:"enabled,omitempty"`
	ExtractionInstructions *string `json:"extraction_instructions,omitempty"`
	MaxMemoriesPerUser     *int    `json:"max_memories_per_user,omitempty"`
	RetentionDays          *int    `json:"retention_days,omitempty"`
}

// Apply overlays the non-nil fields of u onto cfg. Non-positive limits
// are ignored.
func (u *ConfigUpdate) Apply(cfg *Config) {
	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.ExtractionInstructions != nil {
		cfg.ExtractionInstructions = *u.ExtractionInstructions
	}
	if u.MaxMemoriesPerUser != nil && *u.MaxMemoriesPerUser > 0 {
		cfg.MaxMemoriesPerUser = *u.MaxMemoriesPerUser
	}
	if u.RetentionDays != nil && *u.RetentionDays > 0 {
		cfg.RetentionDays = *u.RetentionDays
	}
}

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ExtractionJob records one attempt to derive observations from a
// conversation. Used for duplicate suppression and observability only;
// the prompt path never reads it.
type ExtractionJob struct {
	ID                 string     `json:"id"`
	SessionID          string     `json:"session_id"`
	AgentID            string     `json:"agent_id"`
	UserID             string     `json:"user_id"`
	Status             JobStatus  `json:"status"`
	MemoriesExtracted  int        `json:"memories_extracted"`
	MessagesConsidered int        `json:"messages_considered"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// Message is a single conversation message from the session message store.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtractedFact is one candidate fact from the LLM extraction response.
// Type and priority are validated with safe fallbacks rather than failing
// the batch: extraction output is advisory, never critical-path.
type ExtractedFact struct {
	Content        string `json:"content"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	ReferencedDate string `json:"referenced_date,omitempty"`
	ConflictsWith  string `json:"conflicts_with,omitempty"`
}

// NormalizedType returns the fact's type, defaulting to TypeFact for
// unknown or missing values.
func (f *ExtractedFact) NormalizedType() Type {
	t := Type(strings.ToLower(strings.TrimSpace(f.Type)))
	for _, v := range ValidTypes {
		if t == v {
			return t
		}
	}
	return TypeFact
}

// NormalizedPriority returns the fact's priority, defaulting to
// PriorityYellow for unknown or missing values.
func (f *ExtractedFact) NormalizedPriority() Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(f.Priority)))
	for _, v := range ValidPriorities {
		if p == v {
			return p
		}
	}
	return PriorityYellow
}

// ReferencedAt parses the fact's referenced_date (YYYY-MM-DD) if present.
func (f *ExtractedFact) ReferencedAt() *time.Time {
	s := strings.TrimSpace(f.ReferencedDate)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// ParseFacts extracts the candidate-fact array from a raw LLM response.
// The response may wrap the JSON in prose or code fences; anything that
// does not contain a well-formed array yields zero candidates, not an
// error. Facts with empty content are discarded.
func ParseFacts(raw string) []ExtractedFact {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var facts []ExtractedFact
	if err := json.Unmarshal([]byte(raw[start:end+1]), &facts); err != nil {
		return nil
	}

	kept := facts[:0]
	for _, f := range facts {
		if strings.TrimSpace(f.Content) != "" {
			kept = append(kept, f)
		}
	}
	return kept
}
