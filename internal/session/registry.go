package session

import (
	"log/slog"

	"github.com/signac/viewer/internal/protocol"
)

// FieldRegistry holds the fields advertised by the backend. Fields are
// identified by label only.
type FieldRegistry struct {
	fields   []protocol.Field
	byLabel  map[string]int
	onChange func([]protocol.Field)
	logger   *slog.Logger
}

// NewFieldRegistry returns an empty registry. onChange, if set, is called after every Load.
func NewFieldRegistry(onChange func([]protocol.Field), logger *slog.Logger) *FieldRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldRegistry{byLabel: make(map[string]int), onChange: onChange, logger: logger}
}

// Load replaces the registry contents. Duplicate labels after the first are dropped.
func (r *FieldRegistry) Load(fields []protocol.Field) {
	r.fields = make([]protocol.Field, 0, len(fields))
	r.byLabel = make(map[string]int, len(fields))
	for _, f := range fields {
		if _, dup := r.byLabel[f.Label]; dup {
			r.logger.Warn("duplicate field label dropped", "label", f.Label)
			continue
		}
		r.byLabel[f.Label] = len(r.fields)
		r.fields = append(r.fields, f)
	}
	if r.onChange != nil {
		r.onChange(r.Fields())
	}
}

// Lookup finds a field by label.
func (r *FieldRegistry) Lookup(label string) (protocol.Field, bool) {
	i, ok := r.byLabel[label]
	if !ok {
		return protocol.Field{}, false
	}
	return r.fields[i], true
}

// Fields returns a copy of the current snapshot in backend order.
func (r *FieldRegistry) Fields() []protocol.Field {
	out := make([]protocol.Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Labels returns the field labels in backend order.
func (r *FieldRegistry) Labels() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Label
	}
	return out
}

// Len returns the number of fields.
func (r *FieldRegistry) Len() int {
	return len(r.fields)
}
