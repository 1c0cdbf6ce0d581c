package processor

import (
	chain "github.com/hanpama/dtopipe/internal/chain"
	failure "github.com/hanpama/dtopipe/internal/failure"
)

// FieldSpec declares the chains of one field, per phase.
type FieldSpec struct {
	Name string
	// Optional fields are skipped when the input lacks them. Other absent
	// fields run their chain on nil.
	Optional bool
	Inbound  []chain.Declaration
	Outbound []chain.Declaration
}

// Declarations returns the field's declarations for phase.
func (f FieldSpec) Declarations(phase chain.Phase) []chain.Declaration {
	if phase == chain.Outbound {
		return f.Outbound
	}
	return f.Inbound
}

// Schema is the ordered field list of one kind of record.
type Schema struct {
	Name string
	// Strict schemas reject input keys that name no field.
	Strict bool
	Fields []FieldSpec
}

// Validate checks that the schema and its field names are well formed.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return failure.Configuration("schema without a name")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return failure.Configuration("schema %s: field %d has no name", s.Name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return failure.Configuration("schema %s: field %s is declared twice", s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}
