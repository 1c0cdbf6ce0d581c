// Package discovery loads record schemas declared as data. Each YAML
// document describes one schema: its fields and, per phase, the ordered
// leaf and modifier declarations.
package discovery

import (
	"context"
)

type SchemaID string

type SchemaMetadata struct {
	ID       SchemaID
	Name     string
	FilePath string
}

type Discovery interface {
	ListMetadata(ctx context.Context) ([]*SchemaMetadata, error)
	ReadSchema(ctx context.Context, id SchemaID) ([]byte, error)
}
