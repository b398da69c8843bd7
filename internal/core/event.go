package core

import "time"

// EventKind discriminates observable occurrences.
type EventKind string

const (
	EventTaskStarted       EventKind = "task:started"
	EventTaskUpdated       EventKind = "task:updated"
	EventTaskCompleted     EventKind = "task:completed"
	EventTaskFailed        EventKind = "task:failed"
	EventTaskOutput        EventKind = "task:output"
	EventTaskModelResolved EventKind = "task:model_resolved"
	EventTaskChunk         EventKind = "task:chunk"

	EventDAGCreated             EventKind = "dag:created"
	EventDAGStarted             EventKind = "dag:started"
	EventDAGCompleted           EventKind = "dag:completed"
	EventDAGNodeStarted         EventKind = "dag:node:started"
	EventDAGNodeCompleted       EventKind = "dag:node:completed"
	EventDAGNodeFailed          EventKind = "dag:node:failed"
	EventDAGNodeWaitingApproval EventKind = "dag:node:waiting_approval"
	EventDAGNodeAdded           EventKind = "dag:node:added"
	EventDAGNodeOutput          EventKind = "dag:node:output"

	EventDeviceCreated   EventKind = "device:created"
	EventDeviceConnected EventKind = "device:connected"
	EventDeviceOnline    EventKind = "device:online"
	EventDeviceOffline   EventKind = "device:offline"
	EventDeviceDeleted   EventKind = "device:deleted"

	EventSessionCreated   EventKind = "hgmem:session:created"
	EventSessionCompleted EventKind = "hgmem:session:completed"
	EventStepStart        EventKind = "hgmem:step:start"
	EventStepEnd          EventKind = "hgmem:step:end"

	EventSubscriberDropped EventKind = "subscriber:dropped"
)

// Event is an observable occurrence. The payload carries enough
// identifiers for a consumer to route it without side lookups.
type Event struct {
	Kind    EventKind      `json:"type"`
	Time    time.Time      `json:"ts"`
	Payload map[string]any `json:"-"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind EventKind, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Kind: kind, Time: time.Now().UTC(), Payload: payload}
}

// Envelope flattens the event into the wire form {type, ts, ...payload}.
func (e Event) Envelope() map[string]any {
	out := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["type"] = string(e.Kind)
	out["ts"] = e.Time.Format(time.RFC3339Nano)
	return out
}
