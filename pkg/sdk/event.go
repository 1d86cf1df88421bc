package sdk

import "context"

// SchemaIDField is the key carrying the schema identifier inside an emission.
const SchemaIDField = "schema_id"

// Event is a schema-tagged emission as delivered by the event bus. The payload
// fields sit next to the schema identifier, the same flat shape the Jupyter
// server sends over /api/events/subscribe.
type Event map[string]any

// NewEvent builds an emission for schemaID from data. data is copied.
func NewEvent(schemaID string, data map[string]any) Event {
	ev := make(Event, len(data)+1)
	for k, v := range data {
		ev[k] = v
	}
	ev[SchemaIDField] = schemaID
	return ev
}

// SchemaID returns the schema identifier of the emission, or "" if missing.
func (e Event) SchemaID() string {
	id, _ := e[SchemaIDField].(string)
	return id
}

// Data returns the payload without the schema identifier.
func (e Event) Data() map[string]any {
	data := make(map[string]any, len(e))
	for k, v := range e {
		if k == SchemaIDField {
			continue
		}
		data[k] = v
	}
	return data
}

// ListenerFunc is invoked once per delivered event matching the schema it was
// registered for. A returned error is handed to the event manager's failure
// reporting; it never reaches the emitter.
type ListenerFunc func(ctx context.Context, manager EventManager, schemaID string, ev Event) error

// EventListener registers callbacks against schema identifiers.
type EventListener interface {
	AddListener(schemaID string, fn ListenerFunc)
}

// EventManager is the listener service plus the ability to emit.
type EventManager interface {
	EventListener
	Emit(ctx context.Context, schemaID string, data map[string]any) error
}
