package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	chain "github.com/hanpama/dtopipe/internal/chain"
	failure "github.com/hanpama/dtopipe/internal/failure"
	modifier "github.com/hanpama/dtopipe/internal/modifier"
	processor "github.com/hanpama/dtopipe/internal/processor"
)

// Document is the serialized form of a schema.
type Document struct {
	Name   string     `yaml:"name"`
	Strict bool       `yaml:"strict"`
	Fields []FieldDoc `yaml:"fields"`
}

type FieldDoc struct {
	Name     string    `yaml:"name"`
	Optional bool      `yaml:"optional"`
	Inbound  []DeclDoc `yaml:"inbound"`
	Outbound []DeclDoc `yaml:"outbound"`
}

// DeclDoc is one declaration. Exactly one of Cast, Validate and Modifier
// is set. Keys other than the ones below are the modifier's params:
//
//	- cast: int
//	- validate: range
//	  args: [0, 150]
//	- validate: regex
//	  ctor: ['^\d+$']
//	- modifier: perItem
//	  count: 1
type DeclDoc struct {
	Cast     string         `yaml:"cast,omitempty"`
	Validate string         `yaml:"validate,omitempty"`
	Modifier string         `yaml:"modifier,omitempty"`
	Args     []any          `yaml:"args,omitempty"`
	Ctor     []any          `yaml:"ctor,omitempty"`
	Params   map[string]any `yaml:",inline"`
}

// Build reads every discovered document and converts it into schemas,
// sorted by name. A document may contain several schemas separated by
// "---"; only the first of a file may omit its name.
func Build(ctx context.Context, d Discovery) ([]*processor.Schema, error) {
	metas, err := d.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })

	var out []*processor.Schema
	seen := map[string]string{}
	for _, meta := range metas {
		content, err := d.ReadSchema(ctx, meta.ID)
		if err != nil {
			return nil, err
		}
		docs, err := Decode(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", meta.FilePath, err)
		}
		for i, doc := range docs {
			if doc.Name == "" {
				if i > 0 {
					return nil, fmt.Errorf("%s: %w", meta.FilePath,
						failure.Configuration("document %d needs a name", i+1))
				}
				doc.Name = meta.Name
			}
			if prev, dup := seen[doc.Name]; dup {
				return nil, failure.Configuration("schema %s is declared in %s and %s", doc.Name, prev, meta.FilePath)
			}
			seen[doc.Name] = meta.FilePath

			s, err := doc.Schema()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", meta.FilePath, err)
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Decode parses every YAML document in content.
func Decode(content []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var docs []Document
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Schema converts the document.
func (doc Document) Schema() (*processor.Schema, error) {
	s := &processor.Schema{Name: doc.Name, Strict: doc.Strict}
	for _, fd := range doc.Fields {
		in, err := declarations(fd.Inbound)
		if err != nil {
			return nil, fmt.Errorf("field %s inbound: %w", fd.Name, err)
		}
		out, err := declarations(fd.Outbound)
		if err != nil {
			return nil, fmt.Errorf("field %s outbound: %w", fd.Name, err)
		}
		s.Fields = append(s.Fields, processor.FieldSpec{
			Name:     fd.Name,
			Optional: fd.Optional,
			Inbound:  in,
			Outbound: out,
		})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func declarations(docs []DeclDoc) ([]chain.Declaration, error) {
	decls := make([]chain.Declaration, 0, len(docs))
	for i, dd := range docs {
		d, err := dd.Declaration()
		if err != nil {
			return nil, fmt.Errorf("declaration %d: %w", i+1, err)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

// Declaration converts one declaration.
func (dd DeclDoc) Declaration() (chain.Declaration, error) {
	set := 0
	for _, s := range []string{dd.Cast, dd.Validate, dd.Modifier} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, failure.Configuration("exactly one of cast, validate and modifier must be set")
	}

	switch {
	case dd.Modifier != "":
		if len(dd.Args) > 0 || len(dd.Ctor) > 0 {
			return nil, failure.Configuration("modifier %s takes params, not args or ctor", dd.Modifier)
		}
		return modifier.Build(dd.Modifier, modifier.Params(dd.Params))
	case len(dd.Params) > 0:
		keys := make([]string, 0, len(dd.Params))
		for k := range dd.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, failure.Configuration("unknown keys %v on a leaf declaration", keys)
	case dd.Cast != "":
		return chain.LeafDecl{Kind: chain.KindCast, Ref: dd.Cast, Args: dd.Args, CtorArgs: dd.Ctor}, nil
	default:
		return chain.LeafDecl{Kind: chain.KindValidate, Ref: dd.Validate, Args: dd.Args, CtorArgs: dd.Ctor}, nil
	}
}
