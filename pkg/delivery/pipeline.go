// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package delivery converts logical send requests (text or typed media)
// into transport calls guarded by a timeout and a bounded retry policy.
// Each send is independent: the only store interactions are the brief
// quote lookup and the single last-message write on success.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zapsync/zapsync/pkg/store"
)

// Two outward error kinds, opaque to the caller beyond their identity:
// a caller shows a retry affordance for ErrSendTimeout and a hard failure
// for ErrSendFailed.
var (
	ErrSendTimeout = errors.New("message send timed out after retries")
	ErrSendFailed  = errors.New("message could not be sent")
)

// errAttemptTimeout classifies a single attempt internally; it never
// escapes Send.
var errAttemptTimeout = errors.New("transport call timed out")

const (
	directSuffix = "s.whatsapp.net"
	groupSuffix  = "g.us"
)

// Payload is the loosely-typed transport message content, mirroring the
// shapes the transport's sendMessage accepts ({"text": ...},
// {"image": ..., "caption": ...} and so on).
type Payload = map[string]any

// Ack is the transport's acknowledgement of a delivered message.
type Ack struct {
	MessageID string
	Timestamp time.Time
	Raw       store.Fields
}

// SendOptions carries per-call transport options. AttemptID is a fresh
// idempotency token per attempt so a deduplicating transport can drop the
// late result of an abandoned attempt; transports without deduplication
// may ignore it (duplicate delivery is an accepted risk).
type SendOptions struct {
	Quoted    store.Fields
	AttemptID string
}

// Transport is the outbound capability of the messaging transport.
// A call cannot be cancelled once issued; ctx only bounds the dialing
// side, and the pipeline may stop waiting for the result.
type Transport interface {
	SendMessage(ctx context.Context, destinationID string, payload Payload, opts SendOptions) (*Ack, error)
}

// Conversation identifies a send destination.
type Conversation struct {
	Number  string
	IsGroup bool
}

// DestinationID renders the transport address for the conversation.
func (c Conversation) DestinationID() string {
	if c.IsGroup {
		return c.Number + "@" + groupSuffix
	}
	return c.Number + "@" + directSuffix
}

// Media describes a typed media file to deliver.
type Media struct {
	Path     string
	FileName string
}

// Content is the logical message content: plain text, or media with the
// text used as caption.
type Content struct {
	Text  string
	Media *Media
}

// State is the terminal classification of a send.
type State int

const (
	StateBuilding State = iota
	StateSending
	StateSucceeded
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result reports the outcome of a Send.
type Result struct {
	State    State
	Attempts int
	Ack      *Ack
	Body     string // rendered message body
}

// Outcome is the delivery record handed to an attached Recorder.
type Outcome struct {
	Destination string
	State       string
	Attempts    int
	Body        string
	Error       string
	At          time.Time
}

// Recorder persists terminal delivery outcomes.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Options tunes the pipeline. Zero values fall back to the production
// policy: 10s direct / 30s group timeout, 3 attempts, 2s between retries.
type Options struct {
	DirectTimeout time.Duration
	GroupTimeout  time.Duration
	RetryDelay    time.Duration
	MaxAttempts   int
	FFmpegPath    string
	TempDir       string
}

func (o Options) withDefaults() Options {
	if o.DirectTimeout <= 0 {
		o.DirectTimeout = 10 * time.Second
	}
	if o.GroupTimeout <= 0 {
		o.GroupTimeout = 30 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	return o
}

// Pipeline delivers messages through a Transport, reading quote context
// from the session store and writing back the last-message marker.
// Pipelines are safe for concurrent use; sends to different conversations
// proceed independently.
type Pipeline struct {
	transport Transport
	store     *store.Store
	log       zerolog.Logger
	opts      Options
	recorder  Recorder
}

// New creates a Pipeline. The store is required for quote resolution and
// the last-message write-back; the transport performs the actual sends.
func New(transport Transport, st *store.Store, log zerolog.Logger, opts Options) *Pipeline {
	return &Pipeline{
		transport: transport,
		store:     st,
		log:       log.With().Str("component", "delivery").Logger(),
		opts:      opts.withDefaults(),
	}
}

// AttachRecorder makes the pipeline persist every terminal outcome.
func (p *Pipeline) AttachRecorder(r Recorder) {
	p.recorder = r
}

// Send delivers content to the conversation, optionally quoting a cached
// message. Timed-out attempts are retried up to the attempt budget; any
// other transport error aborts immediately. The returned error is nil,
// ErrSendTimeout or a wrap of ErrSendFailed.
func (p *Pipeline) Send(ctx context.Context, conv Conversation, content Content, quotedMessageID string) (Result, error) {
	dest := conv.DestinationID()
	log := p.log.With().Str("destination", dest).Logger()

	body := p.renderBody(content.Text, conv)
	payload, err := p.buildPayload(ctx, content, body)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build payload")
		res := Result{State: StateFailed, Body: body}
		wrapped := fmt.Errorf("%w: %v", ErrSendFailed, err)
		p.record(ctx, dest, res, wrapped)
		return res, wrapped
	}

	opts := SendOptions{Quoted: p.resolveQuote(dest, quotedMessageID)}
	timeout := p.opts.DirectTimeout
	if conv.IsGroup {
		timeout = p.opts.GroupTimeout
	}

	res := Result{State: StateSending, Body: body}
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		opts.AttemptID = uuid.NewString()

		ack, err := p.attempt(ctx, dest, payload, opts, timeout)
		switch {
		case err == nil:
			res.State = StateSucceeded
			res.Ack = ack
			p.store.UpsertChat(store.Fields{"id": dest, "lastMessage": body})
			log.Debug().Int("attempt", attempt).Msg("Message sent")
			p.record(ctx, dest, res, nil)
			return res, nil
		case errors.Is(err, errAttemptTimeout):
			res.State = StateTimedOut
			log.Warn().Int("attempt", attempt).Msg("Send attempt timed out")
			if attempt < p.opts.MaxAttempts {
				if !p.sleep(ctx, p.opts.RetryDelay) {
					res.State = StateFailed
					wrapped := fmt.Errorf("%w: %v", ErrSendFailed, ctx.Err())
					p.record(ctx, dest, res, wrapped)
					return res, wrapped
				}
			}
		default:
			res.State = StateFailed
			log.Warn().Err(err).Int("attempt", attempt).Msg("Send failed")
			wrapped := fmt.Errorf("%w: %v", ErrSendFailed, err)
			p.record(ctx, dest, res, wrapped)
			return res, wrapped
		}
	}

	log.Warn().Int("attempts", res.Attempts).Msg("Send timed out after exhausting retries")
	p.record(ctx, dest, res, ErrSendTimeout)
	return res, ErrSendTimeout
}

// attempt races one transport call against the attempt timer. On timeout
// the call is detached, not cancelled: the buffered channel lets a late
// result arrive and be dropped without leaking the goroutine.
func (p *Pipeline) attempt(ctx context.Context, dest string, payload Payload, opts SendOptions, timeout time.Duration) (*Ack, error) {
	type sendResult struct {
		ack *Ack
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		ack, err := p.transport.SendMessage(ctx, dest, payload, opts)
		done <- sendResult{ack, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.ack, r.err
	case <-timer.C:
		return nil, errAttemptTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sleep waits out the inter-retry delay; returns false if ctx ended first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveQuote projects a cached message envelope into a quote-context
// payload. A missing message degrades to a quoteless send, never an error.
func (p *Pipeline) resolveQuote(chatID, messageID string) store.Fields {
	if messageID == "" {
		return nil
	}
	msg, ok := p.store.LoadMessage(chatID, messageID)
	if !ok {
		p.log.Debug().Str("message_id", messageID).Msg("Quoted message not cached, sending without quote")
		return nil
	}
	quoted := store.Fields{"key": msg["key"]}
	if inner, ok := msg["message"].(map[string]any); ok {
		quoted["message"] = store.Fields{"extendedTextMessage": inner["extendedTextMessage"]}
	}
	return quoted
}

func (p *Pipeline) record(ctx context.Context, dest string, res Result, sendErr error) {
	if p.recorder == nil {
		return
	}
	outcome := Outcome{
		Destination: dest,
		State:       res.State.String(),
		Attempts:    res.Attempts,
		Body:        res.Body,
		At:          time.Now(),
	}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
	}
	if err := p.recorder.Record(ctx, outcome); err != nil {
		p.log.Warn().Err(err).Msg("Failed to record delivery outcome")
	}
}
