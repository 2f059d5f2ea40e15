package store

import "time"

type User struct {
	ID           string
	Name         string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Phrase is one entry of the input method dictionary. The (Word, Code)
// pair is unique across the whole store.
type Phrase struct {
	ID        string
	Word      string
	Code      string
	Type      string
	Weight    int
	Status    string
	UserID    string
	Remark    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Phrase types, one per dictionary file.
const (
	PhraseTypeSingle     = "single"
	PhraseTypePhrase     = "phrase"
	PhraseTypeSupplement = "supplement"
	PhraseTypeSymbol     = "symbol"
	PhraseTypeLink       = "link"
	PhraseTypeCSS        = "css"
	PhraseTypeCSSSingle  = "css_single"
	PhraseTypeEnglish    = "english"
)

type Issue struct {
	ID        string
	Title     string
	Body      string
	Status    string
	UserID    string
	UserName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	IssueStatusOpen   = "open"
	IssueStatusClosed = "closed"
)

type IssueComment struct {
	ID        string
	IssueID   string
	UserID    string
	UserName  string
	Body      string
	CreatedAt time.Time
}

// Batch groups the edits of one contribution and moves through
// draft -> submitted -> approved/rejected -> published.
type Batch struct {
	ID         string
	Title      string
	Status     string
	UserID     string
	UserName   string
	IssueID    *string
	SyncTaskID *string
	ReviewNote string
	EditCount  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	BatchStatusDraft     = "draft"
	BatchStatusSubmitted = "submitted"
	BatchStatusApproved  = "approved"
	BatchStatusRejected  = "rejected"
	BatchStatusPublished = "published"
)

// Edit is a single proposed dictionary operation inside a batch.
// Position preserves the submission order, which the conflict checker
// and the weight calculation depend on.
type Edit struct {
	ID        string
	BatchID   string
	UserID    string
	Position  int
	Action    string
	Word      string
	Code      string
	Type      string
	Weight    *int
	OldWord   string
	PhraseID  *string
	Remark    string
	Status    string
	CreatedAt time.Time
}

const (
	EditActionCreate = "create"
	EditActionChange = "change"
	EditActionDelete = "delete"
)

// SyncFile is one pending dictionary file of a sync task checkpoint.
type SyncFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SyncTask tracks one GitHub publication run. The checkpoint columns
// (ProcessedItems, TotalItems, ProcessedFiles, PendingFiles) let an
// interrupted run resume from the last committed chunk.
type SyncTask struct {
	ID             string
	Status         string
	Progress       int
	GithubBranch   string
	GithubPrURL    string
	GithubPrNumber int
	ProcessedItems int
	TotalItems     int
	ProcessedFiles []string
	PendingFiles   []SyncFile
	Error          string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)
