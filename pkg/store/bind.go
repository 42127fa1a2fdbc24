// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package store

import "context"

// eventHandlers is the full routing table from transport event names to
// Store mutators. It only destructures and dispatches; all merge/skip
// policy lives in the mutators. New event kinds are added here, not by
// branching elsewhere.
var eventHandlers = map[string]func(*Store, any){
	EventContactsSet: func(s *Store, data any) {
		if contacts, ok := asFieldsMap(data); ok {
			s.SetContacts(contacts)
		} else {
			s.warnPayload(EventContactsSet)
		}
	},
	EventContactsUpsert: func(s *Store, data any) {
		for _, contact := range asFieldsSlice(s, EventContactsUpsert, data) {
			s.UpsertContact(contact)
		}
	},
	EventContactsUpdate: func(s *Store, data any) {
		s.UpdateContacts(asFieldsSlice(s, EventContactsUpdate, data))
	},
	EventContactsDelete: func(s *Store, data any) {
		s.DeleteContacts(asStringSlice(s, EventContactsDelete, data))
	},

	EventChatsSet: func(s *Store, data any) {
		if chats, ok := asFieldsMap(data); ok {
			s.SetChats(chats)
		} else {
			s.warnPayload(EventChatsSet)
		}
	},
	EventChatsUpsert: func(s *Store, data any) {
		for _, chat := range asFieldsSlice(s, EventChatsUpsert, data) {
			s.UpsertChat(chat)
		}
	},
	EventChatsUpdate: func(s *Store, data any) {
		s.UpdateChats(asFieldsSlice(s, EventChatsUpdate, data))
	},
	EventChatsDelete: func(s *Store, data any) {
		s.DeleteChats(asStringSlice(s, EventChatsDelete, data))
	},

	EventMessagesSet: func(s *Store, data any) {
		payload, ok := asFields(data)
		if !ok {
			s.warnPayload(EventMessagesSet)
			return
		}
		chatID, _ := payload["jid"].(string)
		if chatID == "" {
			chatID, _ = payload["chatId"].(string)
		}
		if chatID == "" {
			s.warnPayload(EventMessagesSet)
			return
		}
		s.SetMessages(chatID, asFieldsSlice(s, EventMessagesSet, payload["messages"]))
	},
	EventMessagesUpsert: func(s *Store, data any) {
		payload, ok := asFields(data)
		if !ok {
			s.warnPayload(EventMessagesUpsert)
			return
		}
		kind, _ := payload["type"].(string)
		for _, msg := range asFieldsSlice(s, EventMessagesUpsert, payload["messages"]) {
			s.UpsertMessage(msg, kind)
		}
	},
	EventMessagesUpdate: func(s *Store, data any) {
		s.UpdateMessages(asFieldsSlice(s, EventMessagesUpdate, data))
	},
	EventMessagesDelete: func(s *Store, data any) {
		items, ok := data.([]any)
		if !ok {
			s.warnPayload(EventMessagesDelete)
			return
		}
		keys := make([]MessageKey, 0, len(items))
		for _, item := range items {
			raw, _ := asFields(item)
			key := MessageKey{}
			key.RemoteJID, _ = raw["remoteJid"].(string)
			key.ID, _ = raw["id"].(string)
			keys = append(keys, key)
		}
		s.DeleteMessages(keys)
	},

	EventPresenceSet: func(s *Store, data any) {
		chatID, presence, ok := asPresencePayload(data)
		if !ok {
			s.warnPayload(EventPresenceSet)
			return
		}
		s.SetPresence(chatID, presence)
	},
	EventPresenceUpdate: func(s *Store, data any) {
		chatID, presence, ok := asPresencePayload(data)
		if !ok {
			s.warnPayload(EventPresenceUpdate)
			return
		}
		s.UpdatePresence(chatID, presence)
	},

	EventGroupsUpdate: func(s *Store, data any) {
		s.UpdateGroupMetadata(asFieldsSlice(s, EventGroupsUpdate, data))
	},
	EventGroupsUpsert: func(s *Store, data any) {
		for _, group := range asFieldsSlice(s, EventGroupsUpsert, data) {
			if id, ok := recordID(group); ok {
				s.SetGroupMetadata(id, group)
			}
		}
	},

	EventCall: func(s *Store, data any) {
		for _, call := range asFieldsSlice(s, EventCall, data) {
			peer, _ := call["peerJid"].(string)
			if peer == "" {
				continue
			}
			state, _ := call["state"].(string)
			switch {
			case call["offer"] != nil:
				s.SetCallOffer(peer, call)
			case state == CallStateEnded:
				s.ClearCallOffer(peer)
			}
		}
	},

	EventStickerPacksSet: func(s *Store, data any) {
		s.SetStickerPacks(asFieldsSlice(s, EventStickerPacksSet, data))
	},
	EventStickerPacksUpsert: func(s *Store, data any) {
		for _, pack := range asFieldsSlice(s, EventStickerPacksUpsert, data) {
			s.UpsertStickerPack(pack)
		}
	},

	EventAuthStateUpdate: func(s *Store, data any) {
		if state, ok := asFields(data); ok {
			s.SetAuthState(state)
		} else {
			s.warnPayload(EventAuthStateUpdate)
		}
	},
	EventHistorySyncCompleted: func(s *Store, data any) {
		if jid, ok := data.(string); ok && jid != "" {
			s.MarkHistorySynced(jid)
		} else {
			s.warnPayload(EventHistorySyncCompleted)
		}
	},
}

// HandleEvent routes one transport event to the matching mutator. Unknown
// event names are logged at debug level and dropped.
func (s *Store) HandleEvent(ev Event) {
	handler, ok := eventHandlers[ev.Name]
	if !ok {
		s.log.Debug().Str("event", ev.Name).Msg("Dropping unhandled transport event")
		return
	}
	handler(s, ev.Data)
}

// Bind drains the transport event stream into the Store until the channel
// closes or the context is cancelled. The draining goroutine is the single
// writer for the session; call Bind from exactly one goroutine per stream.
func (s *Store) Bind(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// ============================================================================
// Payload destructuring
// ============================================================================

func (s *Store) warnPayload(event string) {
	s.log.Warn().Str("event", event).Msg("Malformed payload for transport event")
}

func asFields(data any) (Fields, bool) {
	fields, ok := data.(map[string]any)
	return fields, ok
}

// asFieldsMap converts an id-keyed collection payload. Non-record values
// are dropped.
func asFieldsMap(data any) (map[string]Fields, bool) {
	raw, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]Fields, len(raw))
	for id, value := range raw {
		if fields, ok := asFields(value); ok {
			out[id] = fields
		}
	}
	return out, true
}

// asFieldsSlice converts a sequence payload to records, logging once if the
// payload is not a sequence at all. Accepts both []any (decoded JSON) and
// []Fields (locally constructed events).
func asFieldsSlice(s *Store, event string, data any) []Fields {
	switch items := data.(type) {
	case []Fields:
		return items
	case []any:
		out := make([]Fields, 0, len(items))
		for _, item := range items {
			if fields, ok := asFields(item); ok {
				out = append(out, fields)
			}
		}
		return out
	default:
		s.warnPayload(event)
		return nil
	}
}

func asStringSlice(s *Store, event string, data any) []string {
	switch items := data.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		s.warnPayload(event)
		return nil
	}
}

func asPresencePayload(data any) (string, Fields, bool) {
	payload, ok := asFields(data)
	if !ok {
		return "", nil, false
	}
	chatID, _ := payload["id"].(string)
	if chatID == "" {
		chatID, _ = payload["chatId"].(string)
	}
	presence, _ := asFields(payload["presence"])
	if chatID == "" || presence == nil {
		return "", nil, false
	}
	return chatID, presence, true
}
