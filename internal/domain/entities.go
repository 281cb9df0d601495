// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrIllegalTransition   = errors.New("illegal job state transition")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRateLimit   = errors.New("upstream rate limit")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrInternal            = errors.New("internal error")
	ErrNotOwner            = errors.New("not the job owner")
	ErrNotCancellable      = errors.New("job is not in a cancellable state")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// Kind enumerates the three job families the pipeline handles.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindTraining Kind = "training"
)

// State is the Job's lifecycle state. Terminal: Completed, Failed, Cancelled.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether a state has no further legal transitions out of it.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ModerationAction is the outcome of the moderation policy (C7).
type ModerationAction string

const (
	ModerationUnknown ModerationAction = "unknown"
	ModerationApprove ModerationAction = "approve"
	ModerationFlag    ModerationAction = "flag"
	ModerationReview  ModerationAction = "review"
	ModerationBlock   ModerationAction = "block"
)

// Quality is the generation quality tier, used by the pricing function.
type Quality string

const (
	QualityBasic    Quality = "basic"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// EditType enumerates the image-edit operation a request may request.
type EditType string

const (
	EditInpaint           EditType = "inpaint"
	EditOutpaint          EditType = "outpaint"
	EditRestyle           EditType = "restyle"
	EditBackgroundReplace EditType = "background_replace"
)

// VideoMode enumerates the video generation dialect, used by pricing and orchestration.
type VideoMode string

const (
	VideoTextToVideo  VideoMode = "text_to_video"
	VideoImageToVideo VideoMode = "image_to_video"
	VideoFrameInterp  VideoMode = "keyframe"
)

// Params is the immutable, normalized request payload for a Job. Once a Job is
// created its Params are never mutated; caption enrichment is recorded separately
// in EnrichedPrompt rather than by editing Params in place (§3, §4.6 step 2).
type Params struct {
	Prompt          string            `json:"prompt"`
	NegativePrompt  string            `json:"negative_prompt,omitempty"`
	Model           string            `json:"model,omitempty"`
	Quality         Quality           `json:"quality,omitempty"`
	Width           int               `json:"width,omitempty"`
	Height          int               `json:"height,omitempty"`
	Seed            int64             `json:"seed,omitempty"`
	InitImageURL    string            `json:"init_image_url,omitempty"`
	Strength        float64           `json:"strength,omitempty"`
	CaptionInit     bool              `json:"caption_init_image,omitempty"`
	EditType        EditType          `json:"edit_type,omitempty"`
	GenerationType  VideoMode         `json:"generation_type,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	FPS             int               `json:"fps,omitempty"`
	Steps           int               `json:"steps,omitempty"`
	BaseModel       string            `json:"base_model,omitempty"`
	DatasetURL      string            `json:"dataset_url,omitempty"`
	Name            string            `json:"name,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Result is populated once, on transition to completed (§3 invariant 1).
type Result struct {
	ImageURL  string `json:"image_url,omitempty"`
	VideoURL  string `json:"video_url,omitempty"`
	Provider  string `json:"provider,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Meta      string `json:"meta,omitempty"`
	IsPublic  bool   `json:"is_public"`
}

// JobError is the structured failure reason recorded on transition to failed or
// cancelled (§3 invariant 2).
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Job is the single entity around which the whole generation pipeline turns.
type Job struct {
	ID             string
	Owner          string
	Kind           Kind
	Params         Params
	EnrichedPrompt string // caption-enriched prompt, persisted on its own, never written to Params
	Cost           int
	State          State
	Progress       int
	Attempts       int
	Provider       string
	Result         *Result
	Err            *JobError
	Moderation     ModerationAction
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// StatusUpdate is the mutation vector accepted by JobRepository.UpdateStatus. Only
// non-nil fields are applied; the store enforces transition legality and progress
// monotonicity (§3 invariant 3, §9b open question 2 — resolved stricter than the
// source: illegal transitions return ErrIllegalTransition rather than applying).
type StatusUpdate struct {
	State          *State
	Progress       *int
	Attempts       *int
	Provider       *string
	Result         *Result
	Err            *JobError
	Moderation     *ModerationAction
	EnrichedPrompt *string
}

// JobFilters narrows ListByOwner results.
type JobFilters struct {
	Kind  *Kind
	State *State
}

// Page is a simple offset/limit pagination cursor.
type Page struct {
	Offset int
	Limit  int
}

// JobRepository is the durable Job Store (C3).
type JobRepository interface {
	Create(ctx Context, j *Job) error
	UpdateStatus(ctx Context, id string, upd StatusUpdate) error
	Get(ctx Context, id string) (Job, error)
	ListByOwner(ctx Context, owner string, filters JobFilters, page Page) ([]Job, error)
	GetByOwnerAndPrompt(ctx Context, owner string, kind Kind, name string) (Job, error)
	// ListStuck returns, across all owners, up to limit jobs in state that
	// have not been updated since before cutoff, oldest first. Used by the
	// stuck-job sweeper (§4.6) to find crashed/orphaned processing jobs.
	ListStuck(ctx Context, state State, cutoff time.Time, offset, limit int) ([]Job, error)
}

// CreditTransaction is an append-only ledger row (C1).
type CreditTransaction struct {
	ID         string
	User       string
	Delta      int
	ReasonCode string
	JobRef     string
	CreatedAt  time.Time
}

// CreditLedger is the atomic reserve/refund/balance contract (C1, §4.2).
type CreditLedger interface {
	Reserve(ctx Context, user string, amount int, reasonCode, jobRef string) (transactionID string, err error)
	Refund(ctx Context, user string, amount int, jobRef, reasonCode string) error
	Balance(ctx Context, user string) (int, error)
}

// RateDecision is the result of a Check call (C2, §4.3).
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is the sliding-window quota contract (C2).
type RateLimiter interface {
	Check(ctx Context, user, action string, now time.Time) (RateDecision, error)
}

// GenerationStatus is the provider-facing dialect result status (§6).
type GenerationStatus string

const (
	GenStarted   GenerationStatus = "started"
	GenCompleted GenerationStatus = "completed"
	GenFailed    GenerationStatus = "failed"
)

// GenerationResult is the common shape every provider dialect translates into.
type GenerationResult struct {
	Status        GenerationStatus
	Provider      string
	ProviderJobID string
	ImageURL      string
	VideoURL      string
	LatencyMs     int64
	Meta          string
	Err           error
}

// FailureRecord is a structured failure report handed to an ErrorSink.
// (Design Note §9a: replaces a global error-service singleton with an
// injected, swappable sink.)
type FailureRecord struct {
	Component string
	Op        string
	JobID     string
	User      string
	Err       error
	At        time.Time
}

// ErrorSink receives structured failure records from the worker, admission,
// cancellation and the ledger service. The production implementation logs and persists a row for
// the health surface; tests substitute an in-memory sink.
type ErrorSink interface {
	Report(ctx Context, rec FailureRecord)
}

// HealthStatus is returned by a provider's health probe.
type HealthStatus struct {
	OK        bool
	LatencyMs int64
	CheckedAt time.Time
	Details   string
}

// Provider is the in-process capability set a GPU backend must implement (§6,
// Design Note §9a: replaces duck-typed provider objects with an explicit set).
type Provider interface {
	Name() string
	Health(ctx Context) (HealthStatus, error)
	GenerateImage(ctx Context, params Params) (GenerationResult, error)
	GenerateVideo(ctx Context, params Params) (GenerationResult, error)
}

// CaptionResult is returned by a CaptionProvider.
type CaptionResult struct {
	Caption   string
	Model     string
	LatencyMs int64
}

// CaptionProvider captions an init image; independent timeout, no retry (§4.7).
type CaptionProvider interface {
	Name() string
	Caption(ctx Context, params Params) (CaptionResult, error)
}

// NotificationCategory enumerates the notification keying dimension (C8, §4.9).
type NotificationCategory string

const (
	NotifyGenerationComplete NotificationCategory = "generation_complete"
	NotifyTrainingComplete   NotificationCategory = "training_complete"
	NotifySocial             NotificationCategory = "social"
	NotifySubscription       NotificationCategory = "subscription"
	NotifySystem             NotificationCategory = "system"
)

// Notification is a single best-effort event emitted by C8.
type Notification struct {
	User     string
	Category NotificationCategory
	JobID    string
	Payload  map[string]string
}

// Notifier delivers notifications best-effort; failures are logged, never retried.
type Notifier interface {
	Notify(ctx Context, n Notification) error
}

// ModerationScores is the category score vector returned by the external classifier.
type ModerationScores struct {
	Adult      float64
	Violence   float64
	Hate       float64
	Harassment float64
	SelfHarm   float64
	Overall    float64
}

// ModerationClassifier is the external classifier port (out of scope per §1; the
// policy decision consuming its output is in scope, C7).
type ModerationClassifier interface {
	Classify(ctx Context, jobID string, kind Kind, mediaURL string) (ModerationScores, error)
}

// Queue is the per-kind enqueue port (C4).
type Queue interface {
	Enqueue(ctx Context, kind Kind, job EnqueuePayload) error
}

// EnqueuePayload is the message body placed on a per-kind topic. MessageID is
// a lexically sortable id stamped by the producer, independent of JobID (which
// stays the Kafka partition key so every delivery for a job lands on the same
// partition): it lets a consumer or operator read FIFO-within-priority order
// straight off the log without cross-referencing timestamps.
type EnqueuePayload struct {
	JobID     string
	MessageID string
	Owner     string
	Kind      Kind
	Attempts  int
}
