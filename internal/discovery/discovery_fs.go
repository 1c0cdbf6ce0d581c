package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	processor "github.com/hanpama/dtopipe/internal/processor"
)

// FileSystemDiscovery implements Discovery for *.yaml and *.yml schema
// files under a root directory. The file name, without extension, is the
// schema name unless the document sets one.
type FileSystemDiscovery struct {
	filePaths map[SchemaID]string
	metas     map[SchemaID]*SchemaMetadata
}

// NewFileSystemDiscovery creates a new FileSystemDiscovery for the given root directory
func NewFileSystemDiscovery(ctx context.Context, rootDir string) (*FileSystemDiscovery, error) {
	discovery := &FileSystemDiscovery{
		filePaths: make(map[SchemaID]string),
		metas:     make(map[SchemaID]*SchemaMetadata),
	}

	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(d.Name())
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", path, err)
		}

		name := strings.TrimSuffix(d.Name(), ext)
		id := SchemaID(filepath.ToSlash(strings.TrimSuffix(relPath, ext)))
		discovery.filePaths[id] = path
		discovery.metas[id] = &SchemaMetadata{
			ID:       id,
			Name:     name,
			FilePath: relPath,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk root directory %q: %w", rootDir, err)
	}
	return discovery, nil
}

// ListMetadata returns the schema files discovered in the filesystem
func (d *FileSystemDiscovery) ListMetadata(ctx context.Context) ([]*SchemaMetadata, error) {
	metas := make([]*SchemaMetadata, 0, len(d.metas))
	for _, m := range d.metas {
		metas = append(metas, m)
	}
	return metas, nil
}

// ReadSchema reads the content of a schema file
func (d *FileSystemDiscovery) ReadSchema(ctx context.Context, id SchemaID) ([]byte, error) {
	fp, ok := d.filePaths[id]
	if !ok {
		return nil, fmt.Errorf("schema %q not found", id)
	}
	content, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %q: %w", id, err)
	}
	return content, nil
}

// Load is a convenience function that discovers the schemas under rootDir
// and builds them.
func Load(ctx context.Context, rootDir string) ([]*processor.Schema, error) {
	discovery, err := NewFileSystemDiscovery(ctx, rootDir)
	if err != nil {
		return nil, err
	}
	return Build(ctx, discovery)
}
