//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/log"
)

// ErrDiagramNotFound is returned when no file resolves for a diagram id.
var ErrDiagramNotFound = errors.New("diagram not found")

var diagramExtensions = []string{".yaml", ".yml", ".json"}

// FileStore resolves diagram ids to files under a base directory. Lookup
// tries `<id>.{yaml,yml,json}` at any depth first, then falls back to
// scanning files whose internal metadata id matches.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diagram dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, id string) (*diagram.DomainDiagram, error) {
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diagram %s: %w", id, err)
	}
	d, _, err := Decode(path, data)
	return d, err
}

// Save implements Store, writing `<id>.<ext>` in the requested format.
func (s *FileStore) Save(_ context.Context, id string, d *diagram.DomainDiagram, format Format) error {
	codec, err := CodecFor(format)
	if err != nil {
		return err
	}
	data, err := codec.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode diagram %s: %w", id, err)
	}
	ext := ".yaml"
	if format == FormatNative {
		ext = ".json"
	}
	path := filepath.Join(s.dir, id+ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dirs for %s: %w", id, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write diagram %s: %w", id, err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Info, error) {
	paths, err := s.diagramFiles()
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, rel := range paths {
		full := filepath.Join(s.dir, rel)
		stat, err := os.Stat(full)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		format := DetectFormat(rel, data)
		info := Info{
			ID:       strings.TrimSuffix(rel, filepath.Ext(rel)),
			Format:   format,
			Path:     rel,
			Modified: stat.ModTime(),
		}
		if d, _, err := Decode(rel, data); err == nil && d.Metadata != nil {
			info.Name = d.Metadata.Name
			if d.Metadata.ID != "" {
				info.ID = d.Metadata.ID
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	path, err := s.resolve(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete diagram %s: %w", id, err)
	}
	return nil
}

// resolve maps a diagram id to a file path.
func (s *FileStore) resolve(id string) (string, error) {
	fsys := os.DirFS(s.dir)
	for _, ext := range diagramExtensions {
		matches, err := doublestar.Glob(fsys, "**/"+id+ext)
		if err != nil {
			return "", fmt.Errorf("search for diagram %s: %w", id, err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return filepath.Join(s.dir, matches[0]), nil
		}
	}

	// Fall back to scanning internal metadata ids.
	paths, err := s.diagramFiles()
	if err != nil {
		return "", err
	}
	for _, rel := range paths {
		full := filepath.Join(s.dir, rel)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		d, _, err := Decode(rel, data)
		if err != nil {
			log.Debugf("skipping unparseable diagram file %s: %v", rel, err)
			continue
		}
		if d.Metadata != nil && d.Metadata.ID == id {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDiagramNotFound, id)
}

func (s *FileStore) diagramFiles() ([]string, error) {
	fsys := os.DirFS(s.dir)
	var all []string
	for _, ext := range diagramExtensions {
		matches, err := doublestar.Glob(fsys, "**/*"+ext)
		if err != nil {
			return nil, fmt.Errorf("scan diagram dir: %w", err)
		}
		all = append(all, matches...)
	}
	sort.Strings(all)
	return all, nil
}
