// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package store materializes transport-pushed deltas into authoritative
// in-process snapshots of conversational state: contacts, chats, messages,
// presence, group metadata, call offers, sticker packs, auth state and
// history markers. Mutations arrive from a single event stream and are
// applied under one write lock; every applied mutation is re-emitted as a
// local change notification.
package store

import (
	"maps"
	"sync"

	"github.com/rs/zerolog"
)

// Fields is the loosely-typed record shape pushed by the transport.
// A shallow merge overwrites top-level keys only.
type Fields = map[string]any

// MessageKey identifies a message within a conversation.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	ID        string `json:"id"`
}

func (k MessageKey) valid() bool {
	return k.RemoteJID != "" && k.ID != ""
}

// Store owns all entity caches for one transport session. Mutators are
// never reached around: consumers read through accessors and write through
// the enumerated mutator families only. Malformed input from the
// uncontrolled event source is logged and absorbed, never propagated.
type Store struct {
	log zerolog.Logger

	mu            sync.RWMutex
	contacts      map[string]Fields
	chats         map[string]Fields
	messages      map[string]map[string]Fields
	presences     map[string]map[string]Fields
	groupMetadata map[string]Fields
	callOffers    map[string]Fields
	stickerPacks  map[string]Fields
	authState     Fields
	syncedHistory map[string]bool

	handlers []func(Event)
}

// New returns an empty Store logging through the given logger.
func New(log zerolog.Logger) *Store {
	s := &Store{log: log.With().Str("component", "store").Logger()}
	s.reset()
	return s
}

// reset must be called with s.mu held for writing (or before the Store is
// shared).
func (s *Store) reset() {
	s.contacts = make(map[string]Fields)
	s.chats = make(map[string]Fields)
	s.messages = make(map[string]map[string]Fields)
	s.presences = make(map[string]map[string]Fields)
	s.groupMetadata = make(map[string]Fields)
	s.callOffers = make(map[string]Fields)
	s.stickerPacks = make(map[string]Fields)
	s.authState = nil
	s.syncedHistory = make(map[string]bool)
}

// mergeInto shallow-merges src over the record stored in cache[id],
// creating it if absent. The stored record is replaced, not mutated, so
// previously handed-out copies stay stable.
func mergeInto(cache map[string]Fields, id string, src Fields) Fields {
	merged := make(Fields, len(cache[id])+len(src))
	maps.Copy(merged, cache[id])
	maps.Copy(merged, src)
	cache[id] = merged
	return merged
}

func recordID(rec Fields) (string, bool) {
	id, ok := rec["id"].(string)
	return id, ok && id != ""
}

// ============================================================================
// Contacts
// ============================================================================

// SetContacts bulk-merges a collection of contacts keyed by id.
func (s *Store) SetContacts(contacts map[string]Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, contact := range contacts {
		mergeInto(s.contacts, id, contact)
	}
	s.emit(EventContactsSet, contacts)
}

// UpsertContact shallow-merges the contact over any existing record for
// its id, creating it if absent.
func (s *Store) UpsertContact(contact Fields) {
	id, ok := recordID(contact)
	if !ok {
		s.log.Warn().Any("contact", contact).Msg("Ignoring contact upsert without id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeInto(s.contacts, id, contact)
	s.emit(EventContactsUpsert, []Fields{contact})
}

// UpdateContacts applies each update only if a record for its id already
// exists. Unknown ids are silently skipped: update is distinct from upsert.
func (s *Store) UpdateContacts(updates []Fields) {
	if updates == nil {
		s.log.Warn().Msg("UpdateContacts called with nil update list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		id, ok := recordID(update)
		if !ok {
			continue
		}
		if _, exists := s.contacts[id]; !exists {
			continue
		}
		mergeInto(s.contacts, id, update)
		s.emit(EventContactsUpdate, []Fields{update})
	}
}

// DeleteContacts removes the given ids. Deleting an absent id is a no-op;
// the delete notification always carries the original id sequence.
func (s *Store) DeleteContacts(ids []string) {
	if ids == nil {
		s.log.Warn().Msg("DeleteContacts called with nil id list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			delete(s.contacts, id)
		}
	}
	s.emit(EventContactsDelete, ids)
}

// Contact returns a copy of the contact record for id.
func (s *Store) Contact(id string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(contact), true
}

// ============================================================================
// Chats
// ============================================================================

// SetChats bulk-merges a collection of chats keyed by id.
func (s *Store) SetChats(chats map[string]Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chat := range chats {
		mergeInto(s.chats, id, chat)
	}
	s.emit(EventChatsSet, chats)
}

// UpsertChat shallow-merges the chat over any existing record for its id.
func (s *Store) UpsertChat(chat Fields) {
	id, ok := recordID(chat)
	if !ok {
		s.log.Warn().Any("chat", chat).Msg("Ignoring chat upsert without id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeInto(s.chats, id, chat)
	s.emit(EventChatsUpsert, []Fields{chat})
}

// UpdateChats applies each update only to chats that already exist.
func (s *Store) UpdateChats(updates []Fields) {
	if updates == nil {
		s.log.Warn().Msg("UpdateChats called with nil update list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		id, ok := recordID(update)
		if !ok {
			continue
		}
		if _, exists := s.chats[id]; !exists {
			continue
		}
		mergeInto(s.chats, id, update)
		s.emit(EventChatsUpdate, []Fields{update})
	}
}

// DeleteChats removes the given chat ids.
func (s *Store) DeleteChats(ids []string) {
	if ids == nil {
		s.log.Warn().Msg("DeleteChats called with nil id list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			delete(s.chats, id)
		}
	}
	s.emit(EventChatsDelete, ids)
}

// Chat returns a copy of the chat record for id.
func (s *Store) Chat(id string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(chat), true
}

// ============================================================================
// Messages
// ============================================================================

func messageKey(rec Fields) (MessageKey, bool) {
	raw, _ := rec["key"].(map[string]any)
	if raw == nil {
		return MessageKey{}, false
	}
	key := MessageKey{}
	key.RemoteJID, _ = raw["remoteJid"].(string)
	key.ID, _ = raw["id"].(string)
	return key, key.valid()
}

// SetMessages replaces the entire per-chat message mapping with the given
// sequence keyed by message id. Records without a well-formed key are
// skipped with a warning.
func (s *Store) SetMessages(chatID string, messages []Fields) {
	if messages == nil {
		s.log.Warn().Str("chat_id", chatID).Msg("SetMessages called with nil message list")
		return
	}
	byID := make(map[string]Fields, len(messages))
	for _, msg := range messages {
		key, ok := messageKey(msg)
		if !ok {
			s.log.Warn().Str("chat_id", chatID).Msg("Skipping message without a valid key")
			continue
		}
		byID[key.ID] = msg
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = byID
	s.emit(EventMessagesSet, MessagesSetData{ChatID: chatID, Messages: messages})
}

// UpsertMessage stores the message under the chat id carried by its own
// key. kind is the transport's upsert classification (e.g. "notify",
// "append") and is passed through to the notification untouched.
func (s *Store) UpsertMessage(msg Fields, kind string) {
	key, ok := messageKey(msg)
	if !ok {
		s.log.Warn().Msg("Ignoring message upsert without a valid key")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.messages[key.RemoteJID]
	if chat == nil {
		chat = make(map[string]Fields)
		s.messages[key.RemoteJID] = chat
	}
	chat[key.ID] = msg
	s.emit(EventMessagesUpsert, MessagesUpsertData{Messages: []Fields{msg}, Kind: kind})
}

// UpdateMessages merges each update into the cached record for its
// (chatId, messageId) pair, skipping pairs that are not cached. Updates
// without a valid key are skipped with a warning.
func (s *Store) UpdateMessages(updates []Fields) {
	if updates == nil {
		s.log.Warn().Msg("UpdateMessages called with nil update list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		key, ok := messageKey(update)
		if !ok {
			s.log.Warn().Msg("Skipping message update without a valid key")
			continue
		}
		chat := s.messages[key.RemoteJID]
		if _, exists := chat[key.ID]; !exists {
			continue
		}
		mergeInto(chat, key.ID, update)
		s.emit(EventMessagesUpdate, []Fields{update})
	}
}

// DeleteMessages removes the messages named by keys. Malformed keys are
// skipped with a warning, absent keys are ignored, and the notification
// carries the original key sequence either way.
func (s *Store) DeleteMessages(keys []MessageKey) {
	if keys == nil {
		s.log.Warn().Msg("DeleteMessages called with nil key list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if !key.valid() {
			s.log.Warn().Str("remote_jid", key.RemoteJID).Str("id", key.ID).Msg("Skipping invalid message key")
			continue
		}
		if chat := s.messages[key.RemoteJID]; chat != nil {
			delete(chat, key.ID)
		}
	}
	s.emit(EventMessagesDelete, keys)
}

// LoadMessage returns a copy of the cached record for (chatID, id).
func (s *Store) LoadMessage(chatID, id string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[chatID][id]
	if !ok {
		return nil, false
	}
	return maps.Clone(msg), true
}

// ============================================================================
// Presence
// ============================================================================

func presenceParticipant(presence Fields) (string, bool) {
	participant, ok := presence["participant"].(string)
	return participant, ok && participant != ""
}

// SetPresence stores the presence record under (chatID, participant).
// Records without a participant are logged and dropped.
func (s *Store) SetPresence(chatID string, presence Fields) {
	participant, ok := presenceParticipant(presence)
	if !ok {
		s.log.Warn().Str("chat_id", chatID).Any("presence", presence).Msg("Ignoring presence without participant")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.presences[chatID]
	if chat == nil {
		chat = make(map[string]Fields)
		s.presences[chatID] = chat
	}
	chat[participant] = presence
	s.emit(EventPresenceSet, PresenceData{ChatID: chatID, Presence: presence})
}

// UpdatePresence merges the presence record into any existing one for
// (chatID, participant), creating it if absent.
func (s *Store) UpdatePresence(chatID string, presence Fields) {
	participant, ok := presenceParticipant(presence)
	if !ok {
		s.log.Warn().Str("chat_id", chatID).Any("presence", presence).Msg("Ignoring presence update without participant")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.presences[chatID]
	if chat == nil {
		chat = make(map[string]Fields)
		s.presences[chatID] = chat
	}
	mergeInto(chat, participant, presence)
	s.emit(EventPresenceUpdate, PresenceData{ChatID: chatID, Presence: presence})
}

// Presence returns a copy of the presence record for (chatID, participant).
func (s *Store) Presence(chatID, participant string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	presence, ok := s.presences[chatID][participant]
	if !ok {
		return nil, false
	}
	return maps.Clone(presence), true
}

// ============================================================================
// Group metadata
// ============================================================================

// SetGroupMetadata replaces (or creates) the full metadata blob for a group.
func (s *Store) SetGroupMetadata(groupID string, metadata Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupMetadata[groupID] = metadata
	withID := maps.Clone(metadata)
	if withID == nil {
		withID = Fields{}
	}
	withID["id"] = groupID
	s.emit(EventGroupsUpdate, []Fields{withID})
}

// UpdateGroupMetadata merges each update into existing group metadata,
// skipping unknown group ids.
func (s *Store) UpdateGroupMetadata(updates []Fields) {
	if updates == nil {
		s.log.Warn().Msg("UpdateGroupMetadata called with nil update list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		id, ok := recordID(update)
		if !ok {
			continue
		}
		if _, exists := s.groupMetadata[id]; !exists {
			continue
		}
		mergeInto(s.groupMetadata, id, update)
		s.emit(EventGroupsUpdate, []Fields{update})
	}
}

// GroupMetadata returns a copy of the metadata blob for groupID.
func (s *Store) GroupMetadata(groupID string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metadata, ok := s.groupMetadata[groupID]
	if !ok {
		return nil, false
	}
	return maps.Clone(metadata), true
}

// ============================================================================
// Call offers
// ============================================================================

// SetCallOffer stores an incoming call offer for the peer and emits a call
// notification. Offers are cleared explicitly, never merged.
func (s *Store) SetCallOffer(peerJID string, offer Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callOffers[peerJID] = offer
	withPeer := maps.Clone(offer)
	if withPeer == nil {
		withPeer = Fields{}
	}
	withPeer["peerJid"] = peerJID
	s.emit(EventCall, []Fields{withPeer})
}

// ClearCallOffer removes the stored offer for the peer and emits the
// call-ended transition. Set and clear are lifecycle steps (offer → ended),
// not a symmetric set/delete pair.
func (s *Store) ClearCallOffer(peerJID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callOffers, peerJID)
	s.emit(EventCallUpdate, []Fields{{"peerJid": peerJID, "state": CallStateEnded}})
}

// CallOffer returns a copy of the stored offer for peerJID.
func (s *Store) CallOffer(peerJID string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.callOffers[peerJID]
	if !ok {
		return nil, false
	}
	return maps.Clone(offer), true
}

// ============================================================================
// Sticker packs
// ============================================================================

// SetStickerPacks replaces the entire sticker pack collection (bulk reset,
// not a merge). Packs without an id are skipped with a warning.
func (s *Store) SetStickerPacks(packs []Fields) {
	if packs == nil {
		s.log.Warn().Msg("SetStickerPacks called with nil pack list")
		return
	}
	byID := make(map[string]Fields, len(packs))
	for _, pack := range packs {
		id, ok := recordID(pack)
		if !ok {
			s.log.Warn().Any("pack", pack).Msg("Skipping sticker pack without id")
			continue
		}
		byID[id] = pack
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stickerPacks = byID
	s.emit(EventStickerPacksSet, packs)
}

// UpsertStickerPack merges one pack into the collection.
func (s *Store) UpsertStickerPack(pack Fields) {
	id, ok := recordID(pack)
	if !ok {
		s.log.Warn().Any("pack", pack).Msg("Ignoring sticker pack upsert without id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeInto(s.stickerPacks, id, pack)
	s.emit(EventStickerPacksUpsert, []Fields{pack})
}

// StickerPack returns a copy of the pack blob for id.
func (s *Store) StickerPack(id string) (Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pack, ok := s.stickerPacks[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(pack), true
}

// ============================================================================
// Auth state & history markers
// ============================================================================

// SetAuthState replaces the credential blob. Last write wins, no merge.
func (s *Store) SetAuthState(state Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authState = state
}

// AuthState returns a copy of the credential blob.
func (s *Store) AuthState() Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.authState)
}

// MarkHistorySynced flags a conversation as history-synchronized. The flag
// is monotonic for the lifetime of the Store instance.
func (s *Store) MarkHistorySynced(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncedHistory[jid] = true
}

// IsHistorySynced reports whether the conversation's history sync completed.
func (s *Store) IsHistorySynced(jid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncedHistory[jid]
}
