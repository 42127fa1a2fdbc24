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
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// buildPayload maps logical content to the transport payload shape.
func (p *Pipeline) buildPayload(ctx context.Context, content Content, body string) (Payload, error) {
	if content.Media == nil {
		return Payload{"text": body}, nil
	}
	return p.buildMediaPayload(ctx, content.Media, body)
}

// buildMediaPayload sniffs the file's real type and builds the matching
// payload shape. Audio is transcoded first; images get an inline JPEG
// preview. Unrecognized types fall back to the image shape, matching the
// transport's lenient handling.
func (p *Pipeline) buildMediaPayload(ctx context.Context, media *Media, caption string) (Payload, error) {
	mtype, err := mimetype.DetectFile(media.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect media type of %s: %w", media.Path, err)
	}
	kind, _, _ := strings.Cut(mtype.String(), "/")
	fileName := media.FileName
	if fileName == "" {
		fileName = filepath.Base(media.Path)
	}

	switch kind {
	case "video":
		data, err := os.ReadFile(media.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read video file: %w", err)
		}
		return Payload{"video": data, "caption": caption, "fileName": fileName}, nil

	case "audio":
		voice := isVoiceNote(fileName)
		converted, err := p.transcodeAudio(ctx, media.Path, voice)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(converted)
		if err != nil {
			return nil, fmt.Errorf("failed to read transcoded audio: %w", err)
		}
		payload := Payload{"audio": data}
		if voice {
			payload["mimetype"] = "audio/mp4"
			payload["ptt"] = true
		} else {
			payload["mimetype"] = mtype.String()
		}
		if caption != "" {
			payload["caption"] = caption
		}
		return payload, nil

	case "document", "application", "text":
		data, err := os.ReadFile(media.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read document file: %w", err)
		}
		return Payload{
			"document": data,
			"caption":  caption,
			"fileName": fileName,
			"mimetype": mtype.String(),
		}, nil

	default:
		data, err := os.ReadFile(media.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image file: %w", err)
		}
		payload := Payload{"image": data, "caption": caption}
		if thumb, err := jpegThumbnail(data); err == nil {
			payload["jpegThumbnail"] = thumb
		} else {
			p.log.Debug().Err(err).Str("file", fileName).Msg("Skipping thumbnail generation")
		}
		return payload, nil
	}
}
