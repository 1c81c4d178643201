// Package model defines the data models for the application.
// All models use GORM for ORM operations with SQLite database.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringArray is a custom type for storing string arrays in SQLite
type StringArray []string

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	return string(data), err
}

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	}
	return json.Unmarshal(bytes, s)
}

// JSONMap is a custom type for storing JSON maps in SQLite
type JSONMap map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	data, err := json.Marshal(j)
	return string(data), err
}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	}
	return json.Unmarshal(bytes, j)
}

// ReviewType distinguishes pull-request reviews from local working-tree sessions
type ReviewType string

const (
	ReviewTypePR    ReviewType = "pr"
	ReviewTypeLocal ReviewType = "local"
)

// ReviewStatus represents the lifecycle status of a review
type ReviewStatus string

const (
	ReviewStatusDraft     ReviewStatus = "draft"
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusSubmitted ReviewStatus = "submitted"
)

// Review is the root of an analysis unit: one PR or one local working-tree session
type Review struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	ReviewType ReviewType `gorm:"size:20;not null;index" json:"review_type"`

	// PR identification (review_type=pr)
	Repository string `gorm:"size:255;uniqueIndex:idx_pr_repo_number,priority:2,where:review_type = 'pr'" json:"repository"` // owner/name
	PRNumber   *int   `gorm:"uniqueIndex:idx_pr_repo_number,priority:1,where:review_type = 'pr'" json:"pr_number,omitempty"`

	// Local identification (review_type=local)
	LocalPath    string `gorm:"size:1024;uniqueIndex:idx_local_path_head,priority:1,where:review_type = 'local'" json:"local_path,omitempty"`
	LocalHeadSHA string `gorm:"size:64;uniqueIndex:idx_local_path_head,priority:2,where:review_type = 'local'" json:"local_head_sha,omitempty"`

	Status ReviewStatus `gorm:"size:20;not null;default:draft;index" json:"status"`

	Name               string     `gorm:"size:255" json:"name,omitempty"`                // user label
	Summary            string     `gorm:"type:text" json:"summary,omitempty"`            // last-run summary
	CustomInstructions string     `gorm:"type:text" json:"custom_instructions,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`

	// Relations
	Comments []Comment     `gorm:"foreignKey:ReviewID" json:"comments,omitempty"`
	Runs     []AnalysisRun `gorm:"foreignKey:ReviewID" json:"runs,omitempty"`
}

// RunStatus represents the status of an analysis run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ConfigType describes the shape of the voice plan that produced a run
type ConfigType string

const (
	ConfigTypeSingle   ConfigType = "single"
	ConfigTypeAdvanced ConfigType = "advanced"
	ConfigTypeCouncil  ConfigType = "council"
)

// AnalysisRun represents one invocation of the analysis orchestrator.
// Council runs form a tree: one parent row (provider/model/tier NULL) with one
// child row per voice referencing it through ParentRunID.
type AnalysisRun struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReviewID int64 `gorm:"not null;index" json:"review_id"`

	Provider *string `gorm:"size:100" json:"provider,omitempty"`
	Model    *string `gorm:"size:255" json:"model,omitempty"`
	Tier     *string `gorm:"size:50" json:"tier,omitempty"`

	Status      RunStatus  `gorm:"size:20;not null;default:running;index" json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"` // set iff terminal

	Summary          string `gorm:"type:text" json:"summary,omitempty"`
	TotalSuggestions int    `gorm:"default:0" json:"total_suggestions"`
	FilesAnalyzed    int    `gorm:"default:0" json:"files_analyzed"`

	HeadSHA string `gorm:"size:64" json:"head_sha,omitempty"` // commit at analysis time

	CustomInstructions  string `gorm:"type:text" json:"custom_instructions,omitempty"`
	RepoInstructions    string `gorm:"type:text" json:"repo_instructions,omitempty"`
	RequestInstructions string `gorm:"type:text" json:"request_instructions,omitempty"`

	ParentRunID *string    `gorm:"size:20;index" json:"parent_run_id,omitempty"`
	ConfigType  ConfigType `gorm:"size:20;not null;default:single" json:"config_type"`

	// LevelsConfig is an opaque snapshot of the voice plan used for this run
	LevelsConfig JSONMap `gorm:"type:json" json:"levels_config,omitempty"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// Relations
	Review Review `json:"-"`
}

// CommentSource distinguishes user-authored comments from AI suggestions
type CommentSource string

const (
	CommentSourceUser CommentSource = "user"
	CommentSourceAI   CommentSource = "ai"
)

// CommentStatus represents the lifecycle status of a comment
type CommentStatus string

const (
	CommentStatusActive    CommentStatus = "active"
	CommentStatusDismissed CommentStatus = "dismissed"
	CommentStatusAdopted   CommentStatus = "adopted"
	CommentStatusSubmitted CommentStatus = "submitted"
	CommentStatusDraft     CommentStatus = "draft"
	CommentStatusInactive  CommentStatus = "inactive"
)

// CommentSide identifies which side of the diff a comment anchors to
type CommentSide string

const (
	SideLeft  CommentSide = "LEFT"
	SideRight CommentSide = "RIGHT"
)

// Comment is a unified table for user comments and AI suggestions.
// Adoption links the two directions: a user comment created from a suggestion
// carries ParentID=suggestion, and the suggestion carries AdoptedAsID=comment.
type Comment struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReviewID int64 `gorm:"not null;index" json:"review_id"`

	Source CommentSource `gorm:"size:10;not null;index" json:"source"`
	Author string        `gorm:"size:255" json:"author,omitempty"` // display only

	// AI provenance (source=ai)
	AIRunID      *string  `gorm:"size:20;index" json:"ai_run_id,omitempty"`
	AILevel      *int     `json:"ai_level,omitempty"`
	AIConfidence *float64 `json:"ai_confidence,omitempty"`
	Reasoning    string   `gorm:"type:text" json:"reasoning,omitempty"` // optional JSON string

	File      string      `gorm:"size:1024;not null" json:"file"`
	LineStart *int        `json:"line_start,omitempty"`
	LineEnd   *int        `json:"line_end,omitempty"`
	Side      CommentSide `gorm:"size:10;not null;default:RIGHT" json:"side"`

	// DiffPosition is the relative position inside the unified patch, used only
	// when surfacing the comment to a remote host. Stored verbatim, never computed.
	DiffPosition *int `json:"diff_position,omitempty"`

	IsFileLevel bool `gorm:"default:false" json:"is_file_level"`

	Type      string `gorm:"size:50" json:"type,omitempty"`
	Title     string `gorm:"size:512" json:"title,omitempty"`
	Body      string `gorm:"type:text" json:"body"`
	CommitSHA string `gorm:"size:64" json:"commit_sha,omitempty"`

	Status CommentStatus `gorm:"size:20;not null;default:active;index" json:"status"`

	ParentID    *int64 `gorm:"index" json:"parent_id,omitempty"`     // adopting user comment → AI suggestion
	AdoptedAsID *int64 `gorm:"index" json:"adopted_as_id,omitempty"` // adopted AI suggestion → user comment

	// Council provenance
	VoiceID *string `gorm:"size:100" json:"voice_id,omitempty"`
	IsRaw   bool    `gorm:"default:false" json:"is_raw"` // raw per-voice output vs final aggregated

	// Relations
	Review Review `json:"-"`
}

// LocalDiff caches the captured working-tree diff for a local review
type LocalDiff struct {
	ReviewID   int64     `gorm:"primarykey" json:"review_id"`
	DiffText   string    `gorm:"type:text" json:"diff_text"`
	Stats      JSONMap   `gorm:"type:json" json:"stats"`
	Digest     string    `gorm:"size:64;not null" json:"digest"` // stable content hash for staleness check
	CapturedAt time.Time `json:"captured_at"`

	// Relations
	Review Review `json:"-"`
}

// CouncilType distinguishes full councils from advanced single-voice plans
type CouncilType string

const (
	CouncilTypeCouncil  CouncilType = "council"
	CouncilTypeAdvanced CouncilType = "advanced"
)

// Council is a named, reusable voice plan
type Council struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string      `gorm:"size:255;not null" json:"name"`
	Type CouncilType `gorm:"size:20;not null;default:council" json:"type"`

	// Config is the stored voice plan JSON: level → {enabled, voices}
	Config string `gorm:"type:json;not null" json:"config"`

	LastUsedAt *time.Time `gorm:"index" json:"last_used_at,omitempty"` // MRU ordering
}

// CouncilVoice is one (provider, model, tier) combination inside a plan level
type CouncilVoice struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// CouncilLevel is one level of a council configuration
type CouncilLevel struct {
	Enabled bool           `json:"enabled"`
	Voices  []CouncilVoice `json:"voices"`
}

// CouncilConfig is the parsed form of Council.Config, keyed by level ("1".."4")
type CouncilConfig map[string]CouncilLevel

// ParseConfig decodes the stored config JSON into a CouncilConfig
func (c *Council) ParseConfig() (CouncilConfig, error) {
	var cfg CouncilConfig
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ContextFile is a user-pinned line range from a file outside the diff
type ContextFile struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ReviewID  int64  `gorm:"not null;index" json:"review_id"`
	File      string `gorm:"size:1024;not null" json:"file"`
	LineStart int    `gorm:"not null" json:"line_start"`
	LineEnd   int    `gorm:"not null" json:"line_end"`
	Label     string `gorm:"size:255" json:"label,omitempty"`

	// Relations
	Review Review `json:"-"`
}

// ChatSessionStatus represents the status of a comment chat session
type ChatSessionStatus string

const (
	ChatSessionStatusActive ChatSessionStatus = "active"
	ChatSessionStatusClosed ChatSessionStatus = "closed"
)

// ChatSession is a per-comment conversation thread with an AI provider
type ChatSession struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReviewID  int64             `gorm:"not null;index" json:"review_id"`
	CommentID int64             `gorm:"not null;index" json:"comment_id"`
	Provider  string            `gorm:"size:100" json:"provider,omitempty"`
	Status    ChatSessionStatus `gorm:"size:20;not null;default:active" json:"status"`

	// Relations
	Messages []ChatMessage `gorm:"foreignKey:SessionID" json:"messages,omitempty"`
}

// ChatMessage is one message inside a chat session
type ChatMessage struct {
	ID        int64     `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	SessionID string `gorm:"size:20;not null;index" json:"session_id"`
	Role      string `gorm:"size:20;not null" json:"role"` // user or assistant
	Content   string `gorm:"type:text;not null" json:"content"`

	// Relations
	Session ChatSession `json:"-"`
}

// AllModels returns all models for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Review{},
		&AnalysisRun{},
		&Comment{},
		&LocalDiff{},
		&Council{},
		&ContextFile{},
		&ChatSession{},
		&ChatMessage{},
	}
}

// DiffStats summarizes the working-tree state captured for a local review
type DiffStats struct {
	TrackedChanges  int `json:"trackedChanges"`
	UntrackedFiles  int `json:"untrackedFiles"`
	StagedChanges   int `json:"stagedChanges"`
	UnstagedChanges int `json:"unstagedChanges"`
}

// ToJSONMap converts the stats to the persisted JSONMap form
func (d DiffStats) ToJSONMap() JSONMap {
	return JSONMap{
		"trackedChanges":  d.TrackedChanges,
		"untrackedFiles":  d.UntrackedFiles,
		"stagedChanges":   d.StagedChanges,
		"unstagedChanges": d.UnstagedChanges,
	}
}

// DiffStatsFromJSONMap converts the persisted JSONMap form back into DiffStats
func DiffStatsFromJSONMap(m JSONMap) DiffStats {
	toInt := func(v interface{}) int {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
		return 0
	}
	return DiffStats{
		TrackedChanges:  toInt(m["trackedChanges"]),
		UntrackedFiles:  toInt(m["untrackedFiles"]),
		StagedChanges:   toInt(m["stagedChanges"]),
		UnstagedChanges: toInt(m["unstagedChanges"]),
	}
}
