// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

// Format is a graph document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// DetectFormat picks the encoding from the file extension, then from the
// first non-blank byte of data.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a graph document. Tasks go through AddTask, so duplicate ids
// in a document fail the same way as in code, and the result is validated.
func Parse(data []byte, format Format) (*Graph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Newf(errors.CodeConfig, "empty %s graph document", format)
	}
	var doc Graph
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, errors.Newf(errors.CodeConfig, "unknown graph format %q", format)
	}
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "decode "+string(format)+" graph", err)
	}

	g := &Graph{ID: doc.ID, Inputs: doc.Inputs}
	for _, t := range doc.Tasks {
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseJSON is Parse with FormatJSON.
func ParseJSON(data []byte) (*Graph, error) { return Parse(data, FormatJSON) }

// ParseYAML is Parse with FormatYAML.
func ParseYAML(data []byte) (*Graph, error) { return Parse(data, FormatYAML) }

// LoadGraph reads and parses a graph file.
func LoadGraph(path string) (*Graph, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeConfig, "graph path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "read graph "+path, err)
	}
	return Parse(data, DetectFormat(path, data))
}

// Marshal encodes a validated graph. JSON output is indented.
func Marshal(g *Graph, format Format) ([]byte, error) {
	if g == nil {
		return nil, errors.New(errors.CodeConfig, "graph is nil", nil)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(g, "", "  ")
	case FormatYAML:
		return yaml.Marshal(g)
	default:
		return nil, errors.Newf(errors.CodeConfig, "unknown graph format %q", format)
	}
}
