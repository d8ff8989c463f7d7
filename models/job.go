package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is an end state. Terminal jobs are
// immutable except for late cost reconciliation.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is a unit of submitted compute work. HostID is nullable: a job may sit
// queued unassigned, or be pinned to a preferred host at submission.
type Job struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	JobID    string `json:"job_id" gorm:"uniqueIndex;not null"`
	RenterID string `json:"renter_id" gorm:"index;not null"`
	HostID   *uint  `json:"host_id,omitempty" gorm:"index"`

	Title          string `json:"title" gorm:"not null"`
	Description    string `json:"description,omitempty"`
	Command        string `json:"command" gorm:"not null"`
	DockerImage    string `json:"docker_image,omitempty"`
	CodeArchiveURL string `json:"code_archive_url,omitempty"`

	GPUCountRequired int     `json:"gpu_count_required" gorm:"default:1"`
	MemoryGBRequired int     `json:"memory_gb_required,omitempty"`
	MaxRuntimeHours  float64 `json:"max_runtime_hours" gorm:"default:24"`

	Status      JobStatus  `json:"status" gorm:"default:pending;index"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ExitCode     *int   `json:"exit_code,omitempty"`
	LogURL       string `json:"log_url,omitempty"`
	ResultsURL   string `json:"results_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	ActualCost    *float64 `json:"actual_cost,omitempty"`

	MakePublic bool `json:"make_public" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicModel is a result artifact a renter chose to publish from a
// completed job. Artifact files themselves live in external storage.
type PublicModel struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	ModelID  string `json:"model_id" gorm:"uniqueIndex;not null"`
	AuthorID string `json:"author_id" gorm:"index;not null"`
	JobID    *uint  `json:"job_id,omitempty"`

	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Framework   string `json:"framework,omitempty"`

	ModelFilesURL string  `json:"model_files_url" gorm:"not null"`
	FileSizeMB    float64 `json:"file_size_mb,omitempty"`

	DownloadCount int  `json:"download_count" gorm:"default:0"`
	IsPublic      bool `json:"is_public" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
