// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus loads documents for ingestion from disk. Scripture files
// are YAML with structured verses; prose files are plain .txt or .md whose
// title comes from the first Markdown heading or the filename.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/mkoval/passage-engine/pkg/types"
)

// Load reads documents from path. A directory is read non-recursively; a
// single file loads one document. Unsupported extensions in a directory are
// skipped; naming one directly is an error.
func Load(path string) ([]*types.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus path: %w", err)
	}

	if !info.IsDir() {
		doc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		return []*types.Document{doc}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", path, err)
	}

	var docs []*types.Document
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !supported(entry.Name()) {
			continue
		}
		doc, err := loadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".txt", ".md":
		return true
	}
	return false
}

func loadFile(path string) (*types.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadScripture(path)
	case ".txt", ".md":
		return loadProse(path)
	}
	return nil, &types.ValidationError{Field: "path", Msg: fmt.Sprintf("unsupported file type %q", filepath.Ext(path))}
}

// loadScripture parses a YAML document file. The file provides id, title,
// and verses; type defaults to scripture when verses are present.
func loadScripture(path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc types.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if doc.Type == "" {
		if len(doc.Verses) > 0 {
			doc.Type = types.DocScripture
		} else {
			doc.Type = types.DocProse
		}
	}
	fillDefaults(&doc, path)
	return &doc, nil
}

// loadProse reads a plain-text or Markdown file as one prose document.
func loadProse(path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	doc := &types.Document{
		Type:    types.DocProse,
		Content: string(data),
		Title:   headingTitle(string(data)),
	}
	fillDefaults(doc, path)
	return doc, nil
}

// headingTitle returns the first Markdown H1 heading, or "".
func headingTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
		if trimmed != "" {
			return ""
		}
	}
	return ""
}

// fillDefaults derives the document ID and title from the filename when the
// file does not provide them, and records provenance.
func fillDefaults(doc *types.Document, path string) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if doc.ID == "" {
		doc.ID = slug(base)
	}
	if doc.Title == "" {
		doc.Title = base
	}
	if doc.Source.Filename == "" {
		doc.Source.Filename = filepath.Base(path)
	}
}

// slug lowercases and replaces runs of non-alphanumerics with hyphens.
func slug(s string) string {
	var sb strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
