// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapsync/zapsync/pkg/store"
)

func TestRenderBodyWithoutPlaceholdersIsLiteral(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})

	got := p.renderBody("plain text", Conversation{Number: "123"})

	assert.Equal(t, "plain text", got)
}

func TestRenderBodyUnknownContactIsLiteral(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})

	got := p.renderBody("Hi {{.name}}", Conversation{Number: "123"})

	assert.Equal(t, "Hi {{.name}}", got)
}

func TestRenderBodyExpandsContactFields(t *testing.T) {
	p, st := newTestPipeline(t, &fakeTransport{handler: ackOK})
	st.UpsertContact(store.Fields{"id": "123@s.whatsapp.net", "name": "Ana", "city": "Recife"})

	got := p.renderBody("{{.name}} from {{.city}}", Conversation{Number: "123"})

	assert.Equal(t, "Ana from Recife", got)
}

func TestRenderBodyFallsBackToBareNumberLookup(t *testing.T) {
	p, st := newTestPipeline(t, &fakeTransport{handler: ackOK})
	st.UpsertContact(store.Fields{"id": "123", "name": "Ana"})

	got := p.renderBody("Hi {{.name}}", Conversation{Number: "123"})

	assert.Equal(t, "Hi Ana", got)
}

func TestRenderBodyInvalidTemplateIsLiteral(t *testing.T) {
	p, st := newTestPipeline(t, &fakeTransport{handler: ackOK})
	st.UpsertContact(store.Fields{"id": "123@s.whatsapp.net", "name": "Ana"})

	got := p.renderBody("broken {{.name", Conversation{Number: "123"})

	assert.Equal(t, "broken {{.name", got)
}
