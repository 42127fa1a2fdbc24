// zapsync - A WhatsApp session sync and delivery engine.
// Copyright (C) 2026 Zapsync Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/zapsync/zapsync/pkg/config"
	"github.com/zapsync/zapsync/pkg/delivery"
	"github.com/zapsync/zapsync/pkg/deliverylog"
	"github.com/zapsync/zapsync/pkg/store"
)

var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "zapsyncd",
		Usage:   "WhatsApp session sync and delivery daemon",
		Version: fmt.Sprintf("%s (%s @ %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML config file",
			},
		},
		Action: run,
		Commands: []*cli.Command{{
			Name:  "example-config",
			Usage: "print the example config and exit",
			Action: func(c *cli.Context) error {
				fmt.Print(config.ExampleConfig)
				return nil
			},
		}, {
			Name:  "deliveries",
			Usage: "list recent delivery outcomes from the delivery log",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of outcomes to print"},
			},
			Action: listDeliveries,
		}},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(log)
	if cfg.SnapshotPath != "" {
		if err := st.LoadFile(cfg.SnapshotPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Info().Str("path", cfg.SnapshotPath).Msg("No snapshot found, starting with an empty store")
			} else {
				log.Warn().Err(err).Msg("Failed to restore snapshot, starting with an empty store")
			}
		} else {
			log.Info().Str("path", cfg.SnapshotPath).Msg("Session store restored from snapshot")
		}
	}

	var dlog *deliverylog.Log
	if cfg.DeliveryLogPath != "" {
		dlog, err = deliverylog.New(ctx, cfg.DeliveryLogPath, log)
		if err != nil {
			return err
		}
		defer dlog.Close()
		log.Info().Str("path", cfg.DeliveryLogPath).Msg("Delivery log opened")
	}

	// The transport is attached by the embedding program; until then the
	// pipeline refuses sends.
	pipe := delivery.New(noTransport{}, st, log, pipelineOptions(cfg))
	if dlog != nil {
		pipe.AttachRecorder(dlog)
	}

	// Log level follows the config file while running.
	go func() {
		err := config.Watch(ctx, configPath, log, func(updated *config.Config) {
			newLevel, err := zerolog.ParseLevel(updated.LogLevel)
			if err != nil {
				log.Warn().Str("log_level", updated.LogLevel).Msg("Ignoring invalid log level from config change")
				return
			}
			zerolog.SetGlobalLevel(newLevel)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watcher stopped")
		}
	}()

	if cfg.SnapshotPath != "" {
		go periodicSnapshotSave(ctx, st, cfg.SnapshotPath, time.Duration(cfg.SnapshotInterval), log)
	}

	log.Info().Msg("zapsyncd running; feed transport events through store.Bind")
	<-ctx.Done()

	if cfg.SnapshotPath != "" {
		if err := st.SaveFile(cfg.SnapshotPath); err != nil {
			log.Warn().Err(err).Msg("Failed to write final snapshot")
		}
	}
	log.Info().Msg("zapsyncd shut down")
	return nil
}

// noTransport is the placeholder wired until the embedding program
// attaches a real transport.
type noTransport struct{}

func (noTransport) SendMessage(ctx context.Context, destinationID string, payload delivery.Payload, opts delivery.SendOptions) (*delivery.Ack, error) {
	return nil, errors.New("no transport attached")
}

func pipelineOptions(cfg *config.Config) delivery.Options {
	return delivery.Options{
		DirectTimeout: time.Duration(cfg.Delivery.DirectTimeout),
		GroupTimeout:  time.Duration(cfg.Delivery.GroupTimeout),
		RetryDelay:    time.Duration(cfg.Delivery.RetryDelay),
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		FFmpegPath:    cfg.FFmpegPath,
		TempDir:       cfg.MediaTempDir,
	}
}

func listDeliveries(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.DeliveryLogPath == "" {
		return fmt.Errorf("delivery_log_path is not configured")
	}

	ctx := context.Background()
	dlog, err := deliverylog.New(ctx, cfg.DeliveryLogPath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer dlog.Close()

	outcomes, err := dlog.Recent(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		fmt.Printf("%s  %-32s %-10s attempts=%d", o.At.Format(time.RFC3339), o.Destination, o.State, o.Attempts)
		if o.Error != "" {
			fmt.Printf("  error=%s", o.Error)
		}
		fmt.Println()
	}
	return nil
}

func periodicSnapshotSave(ctx context.Context, st *store.Store, path string, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.SaveFile(path); err != nil {
				log.Warn().Err(err).Msg("Periodic snapshot save failed")
			}
		}
	}
}
