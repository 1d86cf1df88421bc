// Package schema keeps the event schemas known to the gateway and validates
// emissions against them.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownSchema = errors.New("schema: unknown schema")
	ErrInvalidEvent  = errors.New("schema: event does not match schema")
	ErrInvalidSchema = errors.New("schema: invalid schema document")
)

// Event schema documents carry jupyter_events keywords that are not JSON
// Schema; only these keys are handed to the validator.
var jsonSchemaKeys = map[string]bool{
	"$id": true, "$schema": true, "$defs": true, "$ref": true,
	"title": true, "description": true, "type": true,
	"properties": true, "required": true, "additionalProperties": true,
	"enum": true, "const": true, "items": true,
	"oneOf": true, "anyOf": true, "allOf": true,
}

// Info describes a registered schema.
type Info struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Title   string `json:"title"`
}

type entry struct {
	info     Info
	resolved *jsonschema.Resolved
}

// Registry maps schema identifiers to resolved schemas. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]entry)}
}

// Register parses a YAML (or JSON) event schema document and returns its id.
// Registering an id again replaces the previous schema.
func (r *Registry) Register(doc []byte) (string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	id, _ := raw["$id"].(string)
	if id == "" {
		return "", fmt.Errorf("%w: missing $id", ErrInvalidSchema)
	}

	clean := make(map[string]any, len(raw))
	for k, v := range raw {
		if jsonSchemaKeys[k] {
			clean[k] = v
		}
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	info := Info{ID: id}
	info.Title, _ = raw["title"].(string)
	if v, ok := raw["version"]; ok && v != nil {
		info.Version = fmt.Sprint(v)
	}

	r.mu.Lock()
	r.schemas[id] = entry{info: info, resolved: resolved}
	r.mu.Unlock()
	return id, nil
}

// RegisterFile registers the schema document stored at path.
func (r *Registry) RegisterFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return r.Register(b)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[id]
	return ok
}

// List returns the registered schemas sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.schemas))
	for _, e := range r.schemas {
		out = append(out, e.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks data against the schema registered under id.
func (r *Registry) Validate(id string, data map[string]any) error {
	r.mu.RLock()
	e, ok := r.schemas[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, id)
	}

	instance, err := normalize(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// normalize turns data into plain JSON values so Go-built payloads
// validate the same way as decoded ones.
func normalize(data map[string]any) (map[string]any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
