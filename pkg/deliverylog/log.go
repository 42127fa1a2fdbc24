// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package deliverylog persists terminal delivery outcomes to SQLite so
// operators can answer "did that message actually go out" across restarts.
package deliverylog

import (
	"context"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/zapsync/zapsync/pkg/delivery"
)

// Log is an append-only SQLite record of delivery outcomes. It implements
// delivery.Recorder.
type Log struct {
	db  *dbutil.Database
	log zerolog.Logger
}

var _ delivery.Recorder = (*Log)(nil)

// New opens (or creates) the delivery log at path.
func New(ctx context.Context, path string, log zerolog.Logger) (*Log, error) {
	db, err := dbutil.NewWithDialect(path, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery log: %w", err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("component", "deliverylog").Logger())

	l := &Log{db: db, log: log.With().Str("component", "deliverylog").Logger()}
	if err := l.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureSchema(ctx context.Context) error {
	_, err := l.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS delivery_outcome (
		rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
		destination TEXT NOT NULL,
		state       TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		body        TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		recorded_ts BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to ensure delivery log schema: %w", err)
	}
	_, err = l.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS delivery_outcome_dest_ts_idx
		ON delivery_outcome (destination, recorded_ts)`)
	if err != nil {
		return fmt.Errorf("failed to ensure delivery log index: %w", err)
	}
	return nil
}

// Record appends one outcome.
func (l *Log) Record(ctx context.Context, outcome delivery.Outcome) error {
	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO delivery_outcome (destination, state, attempts, body, error, recorded_ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		outcome.Destination, outcome.State, outcome.Attempts, outcome.Body, outcome.Error, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record delivery outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]delivery.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx,
		`SELECT destination, state, attempts, body, error, recorded_ts
		 FROM delivery_outcome ORDER BY recorded_ts DESC, rowid DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []delivery.Outcome
	for rows.Next() {
		var o delivery.Outcome
		var ts int64
		if err := rows.Scan(&o.Destination, &o.State, &o.Attempts, &o.Body, &o.Error, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan delivery outcome: %w", err)
		}
		o.At = time.UnixMilli(ts)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
