// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package delivery

import (
	"strings"
	"text/template"
)

// renderBody expands {{.field}} placeholders in the message body against
// the destination contact's profile fields. Bodies without placeholders,
// unknown contacts and template errors all degrade to the literal body.
func (p *Pipeline) renderBody(body string, conv Conversation) string {
	if !strings.Contains(body, "{{") {
		return body
	}
	contact, ok := p.store.Contact(conv.DestinationID())
	if !ok {
		contact, ok = p.store.Contact(conv.Number)
	}
	if !ok {
		return body
	}

	tmpl, err := template.New("body").Parse(body)
	if err != nil {
		p.log.Debug().Err(err).Msg("Message body is not a valid template, sending verbatim")
		return body
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, contact); err != nil {
		p.log.Debug().Err(err).Msg("Template expansion failed, sending verbatim")
		return body
	}
	return buf.String()
}
