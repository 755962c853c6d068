// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/stream"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(tailCmd)

	tailCmd.Flags().String("type", "", "only print events with this hook_event_type")
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event stream, printing one JSON event per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runTail(ctx, clientFor(cmd), cmd.OutOrStdout(), eventType)
	},
}

type streamFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// runTail prints the snapshot and then live events until ctx is done or the
// server closes the stream.
func runTail(ctx context.Context, client *apiClient, out io.Writer, eventType string) error {
	target, err := client.streamURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	client.logger.Debug("stream connected", "url", target)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-done:
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadlineSoon())
		return conn.Close()
	})

	g.Go(func() error {
		defer close(done)

		enc := json.NewEncoder(out)
		for {
			var frame streamFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("read stream: %w", err)
			}

			events, err := frameEvents(frame)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if eventType != "" && ev.HookEventType != eventType {
					continue
				}
				if err := enc.Encode(ev); err != nil {
					return fmt.Errorf("write event: %w", err)
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func frameEvents(frame streamFrame) ([]domain.Event, error) {
	switch frame.Type {
	case stream.TypeInitial:
		var events []domain.Event
		if err := json.Unmarshal(frame.Data, &events); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return events, nil
	case stream.TypeEvent:
		var ev domain.Event
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return []domain.Event{ev}, nil
	default:
		return nil, nil
	}
}

func deadlineSoon() time.Time {
	return time.Now().Add(time.Second)
}
