package models

import "time"

// BuildStageStatus represents the status of a single pipeline stage
type BuildStageStatus struct {
	Status      string     `json:"status" dynamodbav:"Status"` // "pending", "in_progress", "completed", "skipped", "failed"
	StartedAt   *time.Time `json:"started_at,omitempty" dynamodbav:"StartedAt,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" dynamodbav:"CompletedAt,omitempty"`
	Error       string     `json:"error,omitempty" dynamodbav:"Error,omitempty"`
}

// BuildLogEntry represents a single log entry from the pipeline
type BuildLogEntry struct {
	Timestamp time.Time `json:"timestamp" dynamodbav:"Timestamp"`
	Stage     string    `json:"stage" dynamodbav:"Stage"`
	Level     string    `json:"level" dynamodbav:"Level"` // "info", "warning", "error"
	Message   string    `json:"message" dynamodbav:"Message"`
}

// Deployment is the history record of one pipeline run.
// This is a database-agnostic business entity
type Deployment struct {
	Service      string
	DeploymentId string
	Product      string
	Environment  string
	Type         string
	Revision     string
	BuildID      string
	Status       string // "succeeded", "failed"
	Error        string
	DryRun       bool
	ImageRef     string
	Stages       map[string]*BuildStageStatus
	BuildLogs    []BuildLogEntry
	DurationMs   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDeploymentRecord converts a finished report into a history record
func NewDeploymentRecord(id string, report *PipelineReport) *Deployment {
	now := time.Now()
	d := &Deployment{
		Service:      report.Service.Name,
		DeploymentId: id,
		Product:      report.Service.Product,
		Environment:  string(report.Environment),
		Type:         string(report.Type),
		Revision:     report.Revision,
		BuildID:      report.BuildID,
		Status:       report.Status,
		Error:        report.Error,
		DryRun:       report.DryRun,
		Stages:       report.Stages,
		BuildLogs:    report.Logs,
		DurationMs:   report.Duration.Milliseconds(),
		CreatedAt:    report.StartedAt,
		UpdatedAt:    now,
	}
	if report.Result != nil {
		d.ImageRef = report.Result.ImageRef
	}
	return d
}
