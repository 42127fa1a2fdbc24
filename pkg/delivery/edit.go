// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapsync/zapsync/pkg/store"
)

// Edit replaces the body of a previously sent message. The message must
// still be cached in the session store: its key addresses the edit on the
// transport side. On success the cached record is updated in place.
func (p *Pipeline) Edit(ctx context.Context, conv Conversation, messageID, body string) (*Ack, error) {
	dest := conv.DestinationID()
	msg, ok := p.store.LoadMessage(dest, messageID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s not cached for %s", ErrSendFailed, messageID, dest)
	}
	key, hasKey := msg["key"].(map[string]any)
	if !hasKey {
		return nil, fmt.Errorf("%w: cached message %s has no key", ErrSendFailed, messageID)
	}

	payload := Payload{"edit": key, "text": body}
	ack, err := p.transport.SendMessage(ctx, dest, payload, SendOptions{AttemptID: uuid.NewString()})
	if err != nil {
		p.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to edit message")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	p.store.UpdateMessages([]store.Fields{{"key": key, "body": body, "edited": true}})
	return ack, nil
}
