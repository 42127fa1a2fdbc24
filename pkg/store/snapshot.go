// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
)

// Snapshot is a complete point-in-time copy of every entity cache,
// suitable for persistence and warm-starting a session after restart.
// The format is opaque to the transport.
type Snapshot struct {
	Contacts      map[string]Fields            `json:"contacts"`
	Chats         map[string]Fields            `json:"chats"`
	Messages      map[string]map[string]Fields `json:"messages"`
	Presences     map[string]map[string]Fields `json:"presences"`
	GroupMetadata map[string]Fields            `json:"groupMetadata"`
	CallOffers    map[string]Fields            `json:"callOffers"`
	StickerPacks  map[string]Fields            `json:"stickerPacks"`
	AuthState     Fields                       `json:"authState"`
	SyncedHistory map[string]bool              `json:"syncedHistory"`
}

func cloneFlat(src map[string]Fields) map[string]Fields {
	out := make(map[string]Fields, len(src))
	for id, rec := range src {
		out[id] = maps.Clone(rec)
	}
	return out
}

func cloneNested(src map[string]map[string]Fields) map[string]map[string]Fields {
	out := make(map[string]map[string]Fields, len(src))
	for id, inner := range src {
		out[id] = cloneFlat(inner)
	}
	return out
}

// Save returns an immutable copy of every cache.
func (s *Store) Save() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Contacts:      cloneFlat(s.contacts),
		Chats:         cloneFlat(s.chats),
		Messages:      cloneNested(s.messages),
		Presences:     cloneNested(s.presences),
		GroupMetadata: cloneFlat(s.groupMetadata),
		CallOffers:    cloneFlat(s.callOffers),
		StickerPacks:  cloneFlat(s.stickerPacks),
		AuthState:     maps.Clone(s.authState),
		SyncedHistory: maps.Clone(s.syncedHistory),
	}
	s.log.Debug().Msg("Store saved")
	return snap
}

// Load overwrites all caches from a prior snapshot. Missing sections leave
// empty caches, so a zero Snapshot is equivalent to Clear.
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	if snap.Contacts != nil {
		s.contacts = cloneFlat(snap.Contacts)
	}
	if snap.Chats != nil {
		s.chats = cloneFlat(snap.Chats)
	}
	if snap.Messages != nil {
		s.messages = cloneNested(snap.Messages)
	}
	if snap.Presences != nil {
		s.presences = cloneNested(snap.Presences)
	}
	if snap.GroupMetadata != nil {
		s.groupMetadata = cloneFlat(snap.GroupMetadata)
	}
	if snap.CallOffers != nil {
		s.callOffers = cloneFlat(snap.CallOffers)
	}
	if snap.StickerPacks != nil {
		s.stickerPacks = cloneFlat(snap.StickerPacks)
	}
	if snap.AuthState != nil {
		s.authState = maps.Clone(snap.AuthState)
	}
	if snap.SyncedHistory != nil {
		s.syncedHistory = maps.Clone(snap.SyncedHistory)
	}
	s.log.Info().Msg("Store loaded")
}

// Clear resets all caches to empty without destroying the Store instance.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.log.Info().Msg("Store cleared")
}

// SaveFile writes the current snapshot as JSON, atomically via a temp file
// rename so a crash mid-write never truncates the previous snapshot.
func (s *Store) SaveFile(path string) error {
	data, err := json.Marshal(s.Save())
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	s.log.Debug().Str("path", path).Msg("Snapshot written")
	return nil
}

// LoadFile restores a snapshot previously written by SaveFile.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	s.Load(snap)
	return nil
}
