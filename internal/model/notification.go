package model

import (
	"time"
)

// NotificationType identifies what produced a notification.
type NotificationType string

const (
	NotificationEventReminder NotificationType = "EVENT_REMINDER"
)

// Milestone is a named reminder threshold before an event start.
type Milestone struct {
	Name   string        `json:"name"`
	Before time.Duration `json:"before"`
}

// Crossed reports whether now lies inside [start-Before, start).
func (m Milestone) Crossed(start, now time.Time) bool {
	return !now.Before(start.Add(-m.Before)) && now.Before(start)
}

// Event is an upcoming scheduled event of an organization.
type Event struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	StartsAt       time.Time `json:"starts_at"`
	Members        []string  `json:"members"`
}

// Notification is a durable per-user notice.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	EventID   string           `json:"event_id,omitempty"`
	Milestone string           `json:"milestone,omitempty"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotificationJobRecord is the dedup key proving a reminder was emitted.
type NotificationJobRecord struct {
	EventID     string    `json:"event_id"`
	RecipientID string    `json:"recipient_id"`
	Milestone   string    `json:"milestone"`
	CreatedAt   time.Time `json:"created_at"`
}

// DispatchResult summarizes one dispatcher run.
type DispatchResult struct {
	Evaluated int `json:"evaluated"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// ProcessQueuedResponse is returned when a pass is handed to the workers.
type ProcessQueuedResponse struct {
	TaskID string `json:"task_id"`
	Queued bool   `json:"queued"`
}

// ListNotificationsResponse is the response for listing notifications.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

// MarkReadRequest marks notifications read; an empty ID list means all.
type MarkReadRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// UnreadCountResponse is the payload of the unread count surface.
type UnreadCountResponse struct {
	Count int `json:"count"`
}
