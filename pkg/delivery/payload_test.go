// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package delivery

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestBuildPayloadText(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})

	payload, err := p.buildPayload(context.Background(), Content{Text: "hi"}, "hi")

	require.NoError(t, err)
	assert.Equal(t, Payload{"text": "hi"}, payload)
}

func TestBuildPayloadTextFileBecomesDocument(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})
	path := writeTempFile(t, "notes.txt", []byte("some plain text content"))

	payload, err := p.buildPayload(context.Background(), Content{
		Text:  "caption",
		Media: &Media{Path: path, FileName: "notes.txt"},
	}, "caption")

	require.NoError(t, err)
	assert.Equal(t, []byte("some plain text content"), payload["document"])
	assert.Equal(t, "caption", payload["caption"])
	assert.Equal(t, "notes.txt", payload["fileName"])
	assert.Contains(t, payload["mimetype"], "text/plain")
}

func TestBuildPayloadImageGetsThumbnail(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})
	data := encodePNG(t, 200, 100)
	path := writeTempFile(t, "photo.png", data)

	payload, err := p.buildPayload(context.Background(), Content{
		Media: &Media{Path: path},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, data, payload["image"])
	thumb, ok := payload["jpegThumbnail"].([]byte)
	require.True(t, ok, "expected an inline thumbnail")
	decoded, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, thumbnailWidth, decoded.Bounds().Dx())
}

func TestBuildPayloadFileNameDefaultsToBase(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})
	path := writeTempFile(t, "report.txt", []byte("quarterly numbers"))

	payload, err := p.buildPayload(context.Background(), Content{
		Media: &Media{Path: path},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, "report.txt", payload["fileName"])
}

func TestBuildPayloadMissingFileFails(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeTransport{handler: ackOK})

	_, err := p.buildPayload(context.Background(), Content{
		Media: &Media{Path: filepath.Join(t.TempDir(), "missing.bin")},
	}, "")

	assert.Error(t, err)
}

func TestSendMediaFailureYieldsSendFailed(t *testing.T) {
	transport := &fakeTransport{handler: ackOK}
	p, _ := newTestPipeline(t, transport)

	res, err := p.Send(context.Background(), Conversation{Number: "123"}, Content{
		Media: &Media{Path: filepath.Join(t.TempDir(), "missing.bin")},
	}, "")

	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, transport.callCount(), "payload failures must not reach the transport")
}

func TestJpegThumbnailKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 40, 30)

	thumb, err := jpegThumbnail(data)

	require.NoError(t, err)
	decoded, _, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())
	assert.Equal(t, 30, decoded.Bounds().Dy())
}

func TestJpegThumbnailRejectsGarbage(t *testing.T) {
	_, err := jpegThumbnail([]byte("not an image"))
	assert.Error(t, err)
}

func TestIsVoiceNote(t *testing.T) {
	assert.True(t, isVoiceNote("audio-record-1712345.ogg"))
	assert.False(t, isVoiceNote("song.mp3"))
}
