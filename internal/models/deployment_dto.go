package models

import "time"

// TriggerDeploymentRequest represents the request body for triggering a deployment
type TriggerDeploymentRequest struct {
	DryRun     bool   `json:"dryRun"`
	SkipBuild  bool   `json:"skipBuild"`
	SkipUpload bool   `json:"skipUpload"`
	Product    string `json:"product,omitempty"`
}

// TriggerDeploymentResponse is returned once a deployment has been queued
type TriggerDeploymentResponse struct {
	JobID       string `json:"job_id"`
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// DeploymentResponse represents the response structure for a single deployment
type DeploymentResponse struct {
	Service      string                       `json:"service"`
	DeploymentId string                       `json:"deployment_id"`
	Product      string                       `json:"product,omitempty"`
	Environment  string                       `json:"environment"`
	Type         string                       `json:"type"`
	Revision     string                       `json:"revision"`
	Status       string                       `json:"status"`
	Error        string                       `json:"error,omitempty"`
	DryRun       bool                         `json:"dry_run"`
	ImageRef     string                       `json:"image_ref,omitempty"`
	Stages       map[string]*BuildStageStatus `json:"stages,omitempty"`
	DurationMs   int64                        `json:"duration_ms"`
	CreatedAt    time.Time                    `json:"created_at"`
}

// DeploymentListResponse represents the response structure for listing deployments
type DeploymentListResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
}

// ToResponse converts a domain Deployment to a DeploymentResponse DTO
func (d *Deployment) ToResponse() DeploymentResponse {
	return DeploymentResponse{
		Service:      d.Service,
		DeploymentId: d.DeploymentId,
		Product:      d.Product,
		Environment:  d.Environment,
		Type:         d.Type,
		Revision:     d.Revision,
		Status:       d.Status,
		Error:        d.Error,
		DryRun:       d.DryRun,
		ImageRef:     d.ImageRef,
		Stages:       d.Stages,
		DurationMs:   d.DurationMs,
		CreatedAt:    d.CreatedAt,
	}
}
