// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

// Event names form a closed vocabulary shared between the transport's push
// stream and the local change notifications re-emitted by the Store. The
// binder dispatches through an enumerated table keyed by these names, so a
// typo in an event name is a missing table entry rather than a silent miss.
const (
	EventContactsSet    = "contacts.set"
	EventContactsUpsert = "contacts.upsert"
	EventContactsUpdate = "contacts.update"
	EventContactsDelete = "contacts.delete"

	EventChatsSet    = "chats.set"
	EventChatsUpsert = "chats.upsert"
	EventChatsUpdate = "chats.update"
	EventChatsDelete = "chats.delete"

	EventMessagesSet    = "messages.set"
	EventMessagesUpsert = "messages.upsert"
	EventMessagesUpdate = "messages.update"
	EventMessagesDelete = "messages.delete"

	EventPresenceSet    = "presence.set"
	EventPresenceUpdate = "presence.update"

	EventGroupsUpdate = "groups.update"
	EventGroupsUpsert = "groups.upsert"

	EventCall       = "call"
	EventCallUpdate = "call.update"

	EventStickerPacksSet    = "sticker-packs.set"
	EventStickerPacksUpsert = "sticker-packs.upsert"

	EventAuthStateUpdate      = "auth-state.update"
	EventHistorySyncCompleted = "history-sync.completed"
)

// CallStateEnded is the call payload state that signals termination.
const CallStateEnded = "ENDED"

// Event is a named payload, either pushed by the transport (consumed via
// HandleEvent/Bind) or re-emitted by the Store after a mutation.
type Event struct {
	Name string
	Data any
}

// MessagesSetData is the notification payload for messages.set.
type MessagesSetData struct {
	ChatID   string
	Messages []Fields
}

// MessagesUpsertData is the notification payload for messages.upsert.
type MessagesUpsertData struct {
	Messages []Fields
	Kind     string
}

// PresenceData is the notification payload for presence.set and
// presence.update.
type PresenceData struct {
	ChatID   string
	Presence Fields
}

// OnChange registers a notification handler. Handlers run synchronously on
// the mutating goroutine, in registration order, while the Store's write
// lock is held: they must return quickly and must not call back into the
// Store at all — accessors take the read lock and deadlock just like
// mutators.
func (s *Store) OnChange(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// emit must be called with s.mu held for writing.
func (s *Store) emit(name string, data any) {
	ev := Event{Name: name, Data: data}
	for _, fn := range s.handlers {
		fn(ev)
	}
}
