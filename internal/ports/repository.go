package ports

import (
	"context"
	"time"

	"github.com/promptsmith/promptsmith/internal/domain"
)

// CommitStatus records whether a persisted generation attempt produced an
// image.
type CommitStatus string

const (
	CommitSuccess CommitStatus = "success"
	CommitFailed  CommitStatus = "failed"
)

// Project is a named prompt lineage with an optional active baseline.
type Project struct {
	ID                     string    `json:"project_id"`
	Name                   string    `json:"name"`
	ActiveBaselineCommitID string    `json:"active_baseline_commit_id,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Commit is one persisted prompt-to-image generation attempt with lineage.
// Failed attempts are persisted too, with no image paths and an error
// string, so the lineage stays complete.
type Commit struct {
	ID             string       `json:"commit_id"`
	ProjectID      string       `json:"project_id"`
	Prompt         string       `json:"prompt"`
	Model          string       `json:"model"`
	Seed           string       `json:"seed,omitempty"`
	ParentCommitID string       `json:"parent_commit_id,omitempty"`
	ImagePaths     []string     `json:"image_paths"`
	Status         CommitStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EngineSettings is the persisted tuning surface the compare path reads.
type EngineSettings struct {
	// Threshold is the drift score above which a non-degraded compare
	// fails.
	Threshold float64 `json:"threshold"`

	// ImageSize is the generation resolution, width x height.
	ImageSize string `json:"image_size"`
}

// Repository persists projects, commits, and comparison reports. The
// engine never serializes conflicting writes itself; implementations must
// make id reservation and commit creation safe under concurrent callers.
type Repository interface {
	// GetProject returns the project or a NOT_FOUND domain error.
	GetProject(ctx context.Context, projectID string) (Project, error)

	// GetCommit returns the commit or a NOT_FOUND domain error. A non-empty
	// projectID additionally requires the commit to belong to that project.
	GetCommit(ctx context.Context, commitID, projectID string) (Commit, error)

	// ReserveCommitID allocates a unique commit identifier. Identifiers are
	// monotonic enough to serve as history pagination cursors.
	ReserveCommitID(ctx context.Context) (string, error)

	// ReserveReportID allocates a unique comparison report identifier.
	ReserveReportID(ctx context.Context) (string, error)

	// CreateCommit persists a new commit record.
	CreateCommit(ctx context.Context, commit Commit) (Commit, error)

	// UploadCommitImage stores raw image bytes for a commit and returns the
	// reference (URL or path) to record on the commit.
	UploadCommitImage(ctx context.Context, commitID, filename string, data []byte) (string, error)

	// GetSettings returns the persisted engine settings.
	GetSettings(ctx context.Context) (EngineSettings, error)

	// CreateComparisonReport persists an immutable comparison report.
	CreateComparisonReport(ctx context.Context, report domain.ComparisonReport) (domain.ComparisonReport, error)

	// ListHistory returns a page of the project's commits, newest first,
	// and the cursor for the next page (empty when exhausted).
	ListHistory(ctx context.Context, projectID string, limit int, cursor string) ([]Commit, string, error)
}
