// Package events defines the run lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every checkinhub event.
const Topic = "checkinhub.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunFinishedEvent EventType = "run.finished"
	RunFailedEvent   EventType = "run.failed"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SiteID    string    `json:"site_id"`
}

func NewBaseEvent(eventType EventType, siteID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SiteID:    siteID,
	}
}

// RunDetails describes a terminal run.
type RunDetails struct {
	SiteName   string           `json:"site_name"`
	RunID      string           `json:"run_id"`
	Trigger    models.Trigger   `json:"trigger"`
	Status     models.RunStatus `json:"status"`
	AuthFailed bool             `json:"auth_failed"`
	Summary    string           `json:"summary"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// NewRunDetails captures the notification fields of a run.
func NewRunDetails(site *models.Site, run *models.Run) RunDetails {
	return RunDetails{
		SiteName:   site.Name,
		RunID:      run.ID,
		Trigger:    run.Trigger,
		Status:     run.Status,
		AuthFailed: run.AuthFailed,
		Summary:    run.Summary,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

// RunFinished is published for every run that reaches a terminal status.
type RunFinished struct {
	BaseEvent
	RunDetails
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// RunFailed is published when a run ends FAILED.
type RunFailed struct {
	BaseEvent
	RunDetails
}

func (r RunFailed) GetType() EventType {
	return RunFailedEvent
}
