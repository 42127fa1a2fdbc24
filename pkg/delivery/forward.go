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
)

// Forward re-sends a cached message envelope to each destination number
// (direct conversations only). The first transport error aborts the
// remaining destinations.
func (p *Pipeline) Forward(ctx context.Context, chatID, messageID string, destinationNumbers []string) error {
	envelope, ok := p.store.LoadMessage(chatID, messageID)
	if !ok {
		return fmt.Errorf("%w: message %s not cached for %s", ErrSendFailed, messageID, chatID)
	}

	payload := Payload{"forward": envelope}
	for _, number := range destinationNumbers {
		dest := Conversation{Number: number}.DestinationID()
		if _, err := p.transport.SendMessage(ctx, dest, payload, SendOptions{AttemptID: uuid.NewString()}); err != nil {
			p.log.Warn().Err(err).Str("destination", dest).Str("message_id", messageID).Msg("Failed to forward message")
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}
	return nil
}
