package models

import "time"

// EventType is the fixed set of pipeline lifecycle events
type EventType string

const (
	EventDeployStart    EventType = "deployStart"
	EventDeploySuccess  EventType = "deploySuccess"
	EventDeployError    EventType = "deployError"
	EventBuildStart     EventType = "buildStart"
	EventBuildSuccess   EventType = "buildSuccess"
	EventBuildSkipped   EventType = "buildSkipped"
	EventUploadStart    EventType = "uploadStart"
	EventUploadSuccess  EventType = "uploadSuccess"
	EventUploadSkipped  EventType = "uploadSkipped"
	EventPodsRestarting EventType = "podsRestarting"
	EventPodsReady      EventType = "podsReady"
	EventWebDeploying   EventType = "webDeploying"
	EventWebDeployed    EventType = "webDeployed"
	EventCleanup        EventType = "cleanup"
	EventDryRun         EventType = "dryRun"
)

// NotificationEvent is dispatched synchronously at a checkpoint and never stored
type NotificationEvent struct {
	Type        EventType
	Service     ServiceDescriptor
	Environment Environment
	Timestamp   time.Time
	Details     map[string]interface{}
}

// NewEvent creates an event stamped with the current time
func NewEvent(t EventType, svc ServiceDescriptor, env Environment, details map[string]interface{}) NotificationEvent {
	if details == nil {
		details = map[string]interface{}{}
	}
	return NotificationEvent{
		Type:        t,
		Service:     svc,
		Environment: env,
		Timestamp:   time.Now(),
		Details:     details,
	}
}
