// Package validate checks structured tool-call parameters against
// per-action schemas. Only actions with a registered schema are enforced;
// everything else passes through untouched.
package validate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/clavrr/guardrail/internal/action"
	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
)

// Field declares one parameter: its predicates, whether it must be present,
// and the message reported when a required field is missing.
type Field struct {
	Name     string
	Required bool
	Message  string
	Checks   []Predicate
}

// Schema is the ordered field list for one action. Fields are evaluated in
// declared order and every field is always evaluated, so callers see all
// problems at once instead of fixing them one at a time.
type Schema struct {
	Action action.Type
	Fields []Field
}

// Registry holds the registered schemas. Registration happens at startup;
// Validate and SanitizeParams are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[action.Type]Schema
	log     logger.Logger
}

// NewRegistry creates an empty schema registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		schemas: make(map[action.Type]Schema),
		log:     log.WithComponent("validate"),
	}
}

// NewRegistryWithDefaults creates a registry preloaded with DefaultSchemas.
func NewRegistryWithDefaults(log logger.Logger) *Registry {
	r := NewRegistry(log)
	for _, s := range DefaultSchemas() {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the schema for its action.
func (r *Registry) Register(s Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Action] = s
}

// Schema returns the registered schema for act, if any.
func (r *Registry) Schema(act action.Type) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[act]
	return s, ok
}

// Validate checks params against the schema registered for act. Actions
// without a schema are valid. On failure the returned string joins every
// field problem in schema order; the log line carries field names only so
// parameter values never leak into general logs.
func (r *Registry) Validate(act action.Type, params map[string]any, userID string) (bool, string) {
	s, ok := r.Schema(act)
	if !ok {
		metrics.ParamValidationsTotal.WithLabelValues(act.String(), "unregistered").Inc()
		return true, ""
	}

	var failures []string
	var failedFields []string
	for _, f := range s.Fields {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				failures = append(failures, f.Name+": "+f.missingMessage())
				failedFields = append(failedFields, f.Name)
			}
			continue
		}
		if errs := f.check(v); len(errs) > 0 {
			failures = append(failures, errs...)
			failedFields = append(failedFields, f.Name)
		}
	}

	if len(failures) == 0 {
		metrics.ParamValidationsTotal.WithLabelValues(act.String(), "valid").Inc()
		return true, ""
	}

	metrics.ParamValidationsTotal.WithLabelValues(act.String(), "invalid").Inc()
	r.log.Warn("Parameter validation failed",
		logger.String("action", act.String()),
		logger.String("user_id", userID),
		logger.Strings("fields", failedFields))
	return false, strings.Join(failures, "; ")
}

// SanitizeParams returns a copy of params with top-level string values
// whitespace-trimmed. It never rejects anything and runs whether or not a
// schema is registered for act.
func (r *Registry) SanitizeParams(act action.Type, params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = strings.TrimSpace(s)
			continue
		}
		out[k] = v
	}
	return out
}

// check runs every predicate against v. A panicking predicate is reported
// as that field's error instead of unwinding the whole validation.
func (f Field) check(v any) (errs []string) {
	defer func() {
		if r := recover(); r != nil {
			errs = append(errs, fmt.Sprintf("%s: validation failed internally", f.Name))
		}
	}()
	for _, p := range f.Checks {
		if err := p(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
		}
	}
	return errs
}

func (f Field) missingMessage() string {
	if f.Message != "" {
		return f.Message
	}
	return "is required"
}
