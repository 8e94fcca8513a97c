package models

import "time"

// BuildArtifact is produced once per pipeline run and never mutated
type BuildArtifact struct {
	Location  string    `json:"location"`
	Revision  string    `json:"revision"`
	BuildID   string    `json:"build_id"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// Runtime strategy states
const (
	StateBuilding          = "Building"
	StatePushing           = "Pushing"
	StateMigrating         = "Migrating"
	StateRolloutRestarting = "RolloutRestarting"
	StateHealthChecking    = "HealthChecking"
	StateHealthy           = "Healthy"
	StateFailed            = "Failed"
	StateRollingBack       = "RollingBack"
	StateRolledBack        = "RolledBack"
)

// DeploymentResult is returned by every strategy, including no-op branches
type DeploymentResult struct {
	Type       DeploymentType `json:"type"`
	Skipped    bool           `json:"skipped"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Revision   string         `json:"revision,omitempty"`

	// cluster
	PodCount  int    `json:"pod_count,omitempty"`
	PodStatus string `json:"pod_status,omitempty"`

	// static site
	DeployedFiles  int    `json:"deployed_files,omitempty"`
	InvalidationID string `json:"invalidation_id,omitempty"`

	// images and manifests
	ImageRef        string `json:"image_ref,omitempty"`
	ImageTag        string `json:"image_tag,omitempty"`
	ManifestUpdated bool   `json:"manifest_updated,omitempty"`
	ManifestPath    string `json:"manifest_path,omitempty"`
	PRCreated       bool   `json:"pr_created"`

	// packages
	PackageVersion string   `json:"package_version,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`

	// managed runtime
	MigrationRan bool     `json:"migration_ran,omitempty"`
	Healthy      bool     `json:"healthy,omitempty"`
	RolledBack   bool     `json:"rolled_back,omitempty"`
	States       []string `json:"states,omitempty"`
}

// SkippedResult is the result of a strategy that had nothing to do
func SkippedResult(t DeploymentType, reason string) *DeploymentResult {
	return &DeploymentResult{Type: t, Skipped: true, SkipReason: reason}
}

// Pipeline statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// PipelineReport aggregates a finished pipeline run
type PipelineReport struct {
	Service       ServiceDescriptor            `json:"service"`
	Environment   Environment                  `json:"environment"`
	TargetName    string                       `json:"target"`
	Type          DeploymentType               `json:"type"`
	Revision      string                       `json:"revision"`
	BuildID       string                       `json:"build_id"`
	DryRun        bool                         `json:"dry_run"`
	BuildSkipped  bool                         `json:"build_skipped"`
	UploadSkipped bool                         `json:"upload_skipped"`
	Artifact      *BuildArtifact               `json:"artifact,omitempty"`
	UploadedKeys  []string                     `json:"uploaded_keys,omitempty"`
	Result        *DeploymentResult            `json:"result,omitempty"`
	Stages        map[string]*BuildStageStatus `json:"stages,omitempty"`
	Logs          []BuildLogEntry              `json:"logs,omitempty"`
	Status        string                       `json:"status"`
	Error         string                       `json:"error,omitempty"`
	StartedAt     time.Time                    `json:"started_at"`
	Duration      time.Duration                `json:"duration"`
}
