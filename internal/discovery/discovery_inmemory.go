package discovery

import (
	"context"
	"fmt"
)

type InMemorySchema struct {
	Name    string
	Content string
}

// InMemoryDiscovery is a Discovery that stores schema documents in memory
type InMemoryDiscovery struct {
	metas    map[SchemaID]*SchemaMetadata
	contents map[SchemaID]string
}

// NewInMemoryDiscovery creates a new InMemoryDiscovery instance
func NewInMemoryDiscovery(schemas []InMemorySchema) *InMemoryDiscovery {
	discovery := &InMemoryDiscovery{
		metas:    make(map[SchemaID]*SchemaMetadata),
		contents: make(map[SchemaID]string),
	}
	for _, s := range schemas {
		id := SchemaID(s.Name)
		discovery.metas[id] = &SchemaMetadata{
			ID:       id,
			Name:     s.Name,
			FilePath: s.Name + ".yaml",
		}
		discovery.contents[id] = s.Content
	}
	return discovery
}

// ListMetadata implements Discovery interface
func (d *InMemoryDiscovery) ListMetadata(ctx context.Context) ([]*SchemaMetadata, error) {
	metas := make([]*SchemaMetadata, 0, len(d.metas))
	for _, m := range d.metas {
		metas = append(metas, m)
	}
	return metas, nil
}

// ReadSchema implements Discovery interface
func (d *InMemoryDiscovery) ReadSchema(ctx context.Context, id SchemaID) ([]byte, error) {
	content, exists := d.contents[id]
	if !exists {
		return nil, fmt.Errorf("schema %q not found", id)
	}
	return []byte(content), nil
}
