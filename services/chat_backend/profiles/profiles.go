// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profiles maps named generation profiles onto LLM parameters.
//
// A chat stores a profile name; the registry resolves it to concrete
// generation settings at stream time. Profiles ship embedded in the binary
// and can be overridden per deployment by a YAML file, optionally hot
// reloaded on change.
package profiles

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianChat/pkg/validation"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// DefaultProfileName is resolved when a chat names no profile, or names one
// the registry does not know.
const DefaultProfileName = "default"

// Profile is one named set of generation settings. Nil pointer fields leave
// the backend's own defaults in place.
type Profile struct {
	Model          string   `yaml:"model"`
	Temperature    *float32 `yaml:"temperature"`
	TopK           *int     `yaml:"top_k"`
	TopP           *float32 `yaml:"top_p"`
	MaxTokens      *int     `yaml:"max_tokens"`
	Stop           []string `yaml:"stop"`
	EnableThinking bool     `yaml:"enable_thinking"`
	BudgetTokens   int      `yaml:"budget_tokens"`
}

// Params converts the profile to generation parameters.
func (p Profile) Params() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature:    p.Temperature,
		TopK:           p.TopK,
		TopP:           p.TopP,
		MaxTokens:      p.MaxTokens,
		Stop:           p.Stop,
		EnableThinking: p.EnableThinking,
		BudgetTokens:   p.BudgetTokens,
	}
}

// profileFile is the on-disk shape of a profile set.
type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Registry holds the active profile set.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Reload swaps the map under a write
// lock; resolution takes a read lock.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile

	overridePath string
	watcher      *fsnotify.Watcher
	done         chan struct{}
	stopOnce     sync.Once
}

// NewRegistry builds a registry from the embedded profile set.
func NewRegistry() (*Registry, error) {
	parsed, err := parseProfiles(DefaultProfilesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded profiles are invalid: %w", err)
	}
	if _, ok := parsed[DefaultProfileName]; !ok {
		return nil, fmt.Errorf("embedded profiles missing %q entry", DefaultProfileName)
	}
	return &Registry{
		profiles: parsed,
		done:     make(chan struct{}),
	}, nil
}

func parseProfiles(raw []byte) (map[string]Profile, error) {
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles YAML: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("profiles YAML defines no profiles")
	}
	// Names and models end up in telemetry tags and model server requests,
	// so a file with an unsafe entry is rejected whole.
	for name, profile := range file.Profiles {
		if err := validation.ValidateProfileName(name); err != nil {
			return nil, err
		}
		if profile.Model != "" {
			if err := validation.ValidateModelName(profile.Model); err != nil {
				return nil, fmt.Errorf("profile %q: %w", name, err)
			}
		}
	}
	return file.Profiles, nil
}

// LoadFile merges an override file into the registry. Entries replace
// embedded profiles by name; unmentioned profiles are kept.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile file %s: %w", path, err)
	}
	parsed, err := parseProfiles(raw)
	if err != nil {
		return fmt.Errorf("profile file %s: %w", path, err)
	}

	r.mu.Lock()
	for name, profile := range parsed {
		r.profiles[name] = profile
	}
	r.overridePath = path
	r.mu.Unlock()

	slog.Info("Loaded profile overrides", "path", path, "count", len(parsed))
	return nil
}

// Watch reloads the override file when it changes. LoadFile must have
// succeeded first. Stop with Close.
func (r *Registry) Watch() error {
	r.mu.RLock()
	path := r.overridePath
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no profile override file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profile watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	r.watcher = watcher

	go r.watchLoop(path)
	slog.Info("Watching profile file for changes", "path", path)
	return nil
}

func (r *Registry) watchLoop(path string) {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// A failed reload keeps the last good profile set.
			if err := r.LoadFile(path); err != nil {
				slog.Error("Profile reload failed", "path", path, "error", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Profile watcher error", "error", err)
		}
	}
}

// Close stops the watcher, if one is running.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Get returns the named profile.
func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Resolve returns the named profile, falling back to the default profile
// for empty or unknown names.
func (r *Registry) Resolve(name string) Profile {
	if name == "" {
		name = DefaultProfileName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.profiles[name]; ok {
		return p
	}
	slog.Warn("Unknown profile, using default", "profile", name)
	return r.profiles[DefaultProfileName]
}

// Names returns the defined profile names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}

// Models returns the distinct model names referenced by profiles.
// Used to warm the Ollama server at startup.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	models := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Model == "" || seen[p.Model] {
			continue
		}
		seen[p.Model] = true
		models = append(models, p.Model)
	}
	return models
}
