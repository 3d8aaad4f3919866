//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Package apikey resolves stored API key ids to secrets. Secrets come from
// a JSON file or from environment variables; key values never appear in
// diagrams, which reference keys by id only.
package apikey

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned when no key exists for the requested id.
var ErrKeyNotFound = fmt.Errorf("api key not found")

// Info describes a stored key without exposing its secret.
type Info struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Service string `json:"service"`
}

// Service is the port handlers use to resolve key ids to secrets.
type Service interface {
	// GetKey returns the secret for the key id.
	GetKey(ctx context.Context, id string) (string, error)
	// ListKeys returns metadata for all stored keys, sorted by id.
	ListKeys(ctx context.Context) ([]Info, error)
}

type storedKey struct {
	Info
	Key string `json:"key"`
}

// FileStore loads keys from a JSON document mapping id to key records.
// Values of the form "env:NAME" are resolved through the environment at
// lookup time, so secrets can stay out of the file.
type FileStore struct {
	mu   sync.RWMutex
	keys map[string]storedKey
}

// NewFileStore reads the key file at path. A missing file yields an empty
// store rather than an error.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{keys: make(map[string]storedKey)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read api key file: %w", err)
	}
	var raw map[string]storedKey
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse api key file %s: %w", path, err)
	}
	for id, rec := range raw {
		rec.ID = id
		s.keys[id] = rec
	}
	return s, nil
}

// Put adds or replaces a key in memory.
func (s *FileStore) Put(id, label, service, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = storedKey{Info: Info{ID: id, Label: label, Service: service}, Key: key}
}

// GetKey implements Service.
func (s *FileStore) GetKey(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	rec, ok := s.keys[id]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	if name, ok := strings.CutPrefix(rec.Key, "env:"); ok {
		val := os.Getenv(name)
		if val == "" {
			return "", fmt.Errorf("api key %s: environment variable %s is empty", id, name)
		}
		return val, nil
	}
	return rec.Key, nil
}

// ListKeys implements Service.
func (s *FileStore) ListKeys(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]Info, 0, len(s.keys))
	for _, rec := range s.keys {
		infos = append(infos, rec.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// EnvStore resolves key ids directly as environment variable names with an
// optional prefix. Useful for CI and local runs without a key file.
type EnvStore struct {
	// Prefix is prepended to the id when forming the variable name.
	Prefix string
}

// GetKey implements Service.
func (s *EnvStore) GetKey(_ context.Context, id string) (string, error) {
	name := s.Prefix + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrKeyNotFound, id, name)
	}
	return val, nil
}

// ListKeys implements Service. Environment-backed keys are not enumerable.
func (s *EnvStore) ListKeys(context.Context) ([]Info, error) {
	return nil, nil
}
