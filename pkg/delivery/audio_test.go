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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapsync/zapsync/pkg/store"
)

// stubCodec writes a fixed marker to the output path (the second-to-last
// argument, the real binary's argument order) so transcode results are
// recognizable without invoking ffmpeg.
func stubCodec(t *testing.T) string {
	t.Helper()
	script := "#!/bin/sh\nwhile [ $# -gt 2 ]; do shift; done\nprintf 'transcoded' > \"$1\"\n"
	path := filepath.Join(t.TempDir(), "codec.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func failingCodec(t *testing.T) string {
	t.Helper()
	script := "#!/bin/sh\nexit 1\n"
	path := filepath.Join(t.TempDir(), "codec.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// wavBytes is a minimal RIFF/WAVE header, enough for type sniffing.
func wavBytes() []byte {
	return []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00")
}

func newAudioPipeline(t *testing.T, transport Transport, codecPath, tempDir string) (*Pipeline, *store.Store) {
	t.Helper()
	opts := testOptions()
	opts.FFmpegPath = codecPath
	opts.TempDir = tempDir
	st := store.New(zerolog.Nop())
	return New(transport, st, zerolog.Nop(), opts), st
}

func TestTranscodeVoiceNoteProducesSingleOutputAndUnlinksInput(t *testing.T) {
	outDir := t.TempDir()
	input := filepath.Join(t.TempDir(), "audio-record-1712345.wav")
	require.NoError(t, os.WriteFile(input, wavBytes(), 0o644))
	p, _ := newAudioPipeline(t, &fakeTransport{handler: ackOK}, stubCodec(t), outDir)

	output, err := p.transcodeAudio(context.Background(), input, true)

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(output, ".m4a"), "voice notes use the mp4 container, got %s", output)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "transcoded", string(data))

	_, statErr := os.Stat(input)
	assert.True(t, os.IsNotExist(statErr), "input must be removed after a successful transcode")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exactly one temp output per send")
}

func TestTranscodeAudioFileUsesMp3Profile(t *testing.T) {
	input := filepath.Join(t.TempDir(), "song.wav")
	require.NoError(t, os.WriteFile(input, wavBytes(), 0o644))
	p, _ := newAudioPipeline(t, &fakeTransport{handler: ackOK}, stubCodec(t), t.TempDir())

	output, err := p.transcodeAudio(context.Background(), input, false)

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(output, ".mp3"), "audio files use the mp3 profile, got %s", output)
	_, statErr := os.Stat(input)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSendVoiceNoteBuildsPttPayload(t *testing.T) {
	input := filepath.Join(t.TempDir(), "audio-record-9.wav")
	require.NoError(t, os.WriteFile(input, wavBytes(), 0o644))
	transport := &fakeTransport{handler: ackOK}
	p, _ := newAudioPipeline(t, transport, stubCodec(t), t.TempDir())

	res, err := p.Send(context.Background(), Conversation{Number: "123"}, Content{
		Media: &Media{Path: input, FileName: "audio-record-9.wav"},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)

	payload := transport.call(0).payload
	assert.Equal(t, []byte("transcoded"), payload["audio"])
	assert.Equal(t, "audio/mp4", payload["mimetype"])
	assert.Equal(t, true, payload["ptt"])
	_, hasCaption := payload["caption"]
	assert.False(t, hasCaption)
}

func TestSendAudioTranscodeFailureYieldsSendFailed(t *testing.T) {
	input := filepath.Join(t.TempDir(), "song.wav")
	require.NoError(t, os.WriteFile(input, wavBytes(), 0o644))
	transport := &fakeTransport{handler: ackOK}
	p, _ := newAudioPipeline(t, transport, failingCodec(t), t.TempDir())

	res, err := p.Send(context.Background(), Conversation{Number: "123"}, Content{
		Media: &Media{Path: input},
	}, "")

	require.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, transport.callCount(), "transcode failures must not reach the transport")

	_, statErr := os.Stat(input)
	assert.NoError(t, statErr, "input must be kept when the transcode fails")
}
