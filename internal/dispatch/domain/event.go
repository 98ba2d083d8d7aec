package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventJobCreated              EventType = "job_created"
	EventJobAccepted             EventType = "job_accepted"
	EventCallConfirmed           EventType = "call_confirmed"
	EventJobStarted              EventType = "job_started"
	EventChecklistUpdated        EventType = "checklist_updated"
	EventAdjustmentAdded         EventType = "adjustment_added"
	EventAdjustmentUpdated       EventType = "adjustment_updated"
	EventJobCompleted            EventType = "job_completed"
	EventJobCancelled            EventType = "job_cancelled"
	EventJobWithdrawn            EventType = "job_withdrawn"
	EventJobRematched            EventType = "job_rematched"
	EventPaymentAuthorized       EventType = "payment_authorized"
	EventJobRated                EventType = "job_rated"
	EventLocationUpdated         EventType = "location_updated"
	EventCustomerLocationUpdated EventType = "customer_location_updated"
	EventWorkerArrived           EventType = "worker_arrived"
	EventMatchDeclined           EventType = "match_declined"
)

// Event is broadcast to every subscriber of JobID. On the wire it is a flat
// object: {"type", "jobId", "eventId", "timestamp", ...payload}.
type Event struct {
	ID        string
	Type      EventType
	JobID     string
	Payload   map[string]any
	Timestamp time.Time
}

var reservedEventKeys = map[string]struct{}{
	"type": {}, "jobId": {}, "eventId": {}, "timestamp": {},
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		if _, reserved := reservedEventKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	out["type"] = e.Type
	out["jobId"] = e.JobID
	out["eventId"] = e.ID
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	typ, _ := raw["type"].(string)
	jobID, _ := raw["jobId"].(string)
	id, _ := raw["eventId"].(string)
	if typ == "" {
		return fmt.Errorf("event type missing")
	}

	e.Type = EventType(typ)
	e.JobID = jobID
	e.ID = id
	if ts, ok := raw["timestamp"].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("invalid event timestamp: %w", err)
		}
		e.Timestamp = parsed
	}

	for k := range reservedEventKeys {
		delete(raw, k)
	}
	e.Payload = raw
	return nil
}
