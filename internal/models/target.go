package models

import "fmt"

// ServiceDescriptor identifies the thing being deployed. It is immutable for
// the duration of a pipeline run.
type ServiceDescriptor struct {
	Name     string `json:"name"`
	Product  string `json:"product"`
	Category string `json:"category,omitempty"`
}

// Environment is the tag a deployment target is selected by
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ParseEnvironment validates an environment name, accepting the usual short forms.
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "development", "dev":
		return Development, nil
	case "staging", "stage":
		return Staging, nil
	case "production", "prod":
		return Production, nil
	}
	return "", fmt.Errorf("unknown environment %q (want development, staging or production)", s)
}

// DeploymentType is the closed set of deployment strategies
type DeploymentType string

const (
	TypeLambdaZip DeploymentType = "lambda-zip"
	TypeContainer DeploymentType = "container"
	TypeWeb       DeploymentType = "web"
	TypeNpm       DeploymentType = "npm"
	TypeDockerHub DeploymentType = "dockerhub"
	TypeService   DeploymentType = "service"
)

// EmbedsBuild reports whether the strategy for this type performs its own
// build, which makes the pipeline's build and upload phases inapplicable.
func (t DeploymentType) EmbedsBuild() bool {
	switch t {
	case TypeWeb, TypeContainer, TypeNpm, TypeDockerHub, TypeService:
		return true
	}
	return false
}

// StorageDestination is where build artifacts are uploaded
type StorageDestination struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
}

// NotificationSettings configures the lifecycle webhook of a target
type NotificationSettings struct {
	WebhookURL       string   `json:"webhook_url,omitempty"`
	RateLimitDelayMs int      `json:"rate_limit_delay_ms,omitempty"`
	Events           []string `json:"events,omitempty"`
	Username         string   `json:"username,omitempty"`
}

// DeploymentTarget is one environment-tagged entry of the deployment descriptor.
// Settings is nil when the type tag is not one this build knows about.
type DeploymentTarget struct {
	Name          string
	Environment   Environment
	Type          DeploymentType
	Storage       StorageDestination
	Settings      TargetSettings
	Hooks         HookSet
	Notifications NotificationSettings
}

// SelectTarget returns the target matching env. Exactly one target is used
// per run; the first match wins.
func SelectTarget(targets []DeploymentTarget, env Environment) (*DeploymentTarget, bool) {
	for i := range targets {
		if targets[i].Environment == env {
			return &targets[i], true
		}
	}
	return nil, false
}
