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
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// voiceNoteMarker selects the voice-note transcoding profile by file
// naming convention: recordings captured in the chat UI carry it, files
// attached from disk do not.
const voiceNoteMarker = "audio-record"

func isVoiceNote(fileName string) bool {
	return strings.Contains(fileName, voiceNoteMarker)
}

// transcodeAudio runs the external codec over the input file and returns
// the path of the single temporary output produced for this send. The
// input file is removed after a successful conversion.
//
// Voice notes become mono 128k AAC in an mp4 container (played back as a
// push-to-talk message); regular audio files become stereo 192k MP3.
func (p *Pipeline) transcodeAudio(ctx context.Context, inputPath string, voice bool) (string, error) {
	dir := p.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	var outputPath string
	var args []string
	if voice {
		outputPath = filepath.Join(dir, uuid.NewString()+".m4a")
		args = []string{"-i", inputPath, "-vn", "-ac", "1", "-ab", "128k", "-ar", "44100", "-f", "ipod", outputPath, "-y"}
	} else {
		outputPath = filepath.Join(dir, uuid.NewString()+".mp3")
		args = []string{"-i", inputPath, "-vn", "-ac", "2", "-ar", "44100", "-b:a", "192k", outputPath, "-y"}
	}

	cmd := exec.CommandContext(ctx, p.opts.FFmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("audio transcode failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	if err := os.Remove(inputPath); err != nil {
		p.log.Warn().Err(err).Str("path", inputPath).Msg("Failed to remove original audio file after transcode")
	}
	return outputPath, nil
}
