package domain

import (
	dispatch "github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// Delivery is a claimed notification_deliveries row
type Delivery struct {
	EventID   string
	EventType string
	JobID     string
	Status    string
	WorkerID  string
	Attempts  int
	LastError string
}

// DeliveryMessage is one event taken off the notification queue
type DeliveryMessage struct {
	Event       dispatch.Event
	DeliveryTag uint64
}

// Notification is the body POSTed to the webhook
type Notification struct {
	EventID  string         `json:"eventId"`
	Type     string         `json:"type"`
	JobID    string         `json:"jobId"`
	Audience []string       `json:"audience"`
	Event    dispatch.Event `json:"event"`
}
