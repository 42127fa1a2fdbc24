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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapsync/zapsync/pkg/store"
)

func cacheMessage(st *store.Store, chatID, messageID, body string) {
	st.UpsertMessage(store.Fields{
		"key":  map[string]any{"remoteJid": chatID, "id": messageID},
		"body": body,
	}, "notify")
}

func TestEditSendsKeyAndUpdatesCache(t *testing.T) {
	transport := &fakeTransport{handler: ackOK}
	p, st := newTestPipeline(t, transport)
	cacheMessage(st, "123@s.whatsapp.net", "m1", "old text")

	ack, err := p.Edit(context.Background(), Conversation{Number: "123"}, "m1", "new text")

	require.NoError(t, err)
	require.NotNil(t, ack)

	call := transport.call(0)
	assert.Equal(t, "123@s.whatsapp.net", call.dest)
	assert.Equal(t, "new text", call.payload["text"])
	key, ok := call.payload["edit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m1", key["id"])

	msg, ok := st.LoadMessage("123@s.whatsapp.net", "m1")
	require.True(t, ok)
	assert.Equal(t, "new text", msg["body"])
	assert.Equal(t, true, msg["edited"])
}

func TestEditUncachedMessageFails(t *testing.T) {
	transport := &fakeTransport{handler: ackOK}
	p, _ := newTestPipeline(t, transport)

	_, err := p.Edit(context.Background(), Conversation{Number: "123"}, "missing", "new text")

	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 0, transport.callCount())
}

func TestEditTransportErrorLeavesCacheUntouched(t *testing.T) {
	transport := &fakeTransport{handler: func(int) (*Ack, error) {
		return nil, errors.New("boom")
	}}
	p, st := newTestPipeline(t, transport)
	cacheMessage(st, "123@s.whatsapp.net", "m1", "old text")

	_, err := p.Edit(context.Background(), Conversation{Number: "123"}, "m1", "new text")

	require.ErrorIs(t, err, ErrSendFailed)
	msg, _ := st.LoadMessage("123@s.whatsapp.net", "m1")
	assert.Equal(t, "old text", msg["body"])
}

func TestForwardDeliversToEachDestination(t *testing.T) {
	transport := &fakeTransport{handler: ackOK}
	p, st := newTestPipeline(t, transport)
	cacheMessage(st, "chat1", "m1", "forward me")

	err := p.Forward(context.Background(), "chat1", "m1", []string{"111", "222"})

	require.NoError(t, err)
	require.Equal(t, 2, transport.callCount())
	assert.Equal(t, "111@s.whatsapp.net", transport.call(0).dest)
	assert.Equal(t, "222@s.whatsapp.net", transport.call(1).dest)
	envelope, ok := transport.call(0).payload["forward"].(store.Fields)
	require.True(t, ok)
	assert.Equal(t, "forward me", envelope["body"])
}

func TestForwardUncachedMessageFails(t *testing.T) {
	transport := &fakeTransport{handler: ackOK}
	p, _ := newTestPipeline(t, transport)

	err := p.Forward(context.Background(), "chat1", "missing", []string{"111"})

	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 0, transport.callCount())
}

func TestForwardAbortsOnFirstTransportError(t *testing.T) {
	transport := &fakeTransport{handler: func(call int) (*Ack, error) {
		if call == 2 {
			return nil, errors.New("boom")
		}
		return ackOK(call)
	}}
	p, st := newTestPipeline(t, transport)
	cacheMessage(st, "chat1", "m1", "forward me")

	err := p.Forward(context.Background(), "chat1", "m1", []string{"111", "222", "333"})

	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 2, transport.callCount(), "third destination must not be attempted")
}
