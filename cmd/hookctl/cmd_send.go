// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/spf13/cobra"
)

const unknownSession = "unknown"

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().String("source-app", "", "source application name (required)")
	sendCmd.Flags().String("event-type", "", "hook event type, e.g. PreToolUse (required)")
	sendCmd.Flags().String("session-id", "", "session id (defaults to the payload's session_id)")
	sendCmd.Flags().String("summary", "", "optional one-line summary")
	sendCmd.Flags().Bool("add-chat", false, "attach the transcript referenced by the payload's transcript_path")
	sendCmd.Flags().Bool("fail", false, "exit non-zero when the event cannot be sent")
	_ = sendCmd.MarkFlagRequired("source-app")
	_ = sendCmd.MarkFlagRequired("event-type")
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one hook event read from stdin",
	Long: "Reads the hook's JSON payload from stdin and posts it to the server.\n" +
		"Errors are reported on stderr without failing the hook unless --fail is set.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceApp, _ := cmd.Flags().GetString("source-app")
		eventType, _ := cmd.Flags().GetString("event-type")
		sessionID, _ := cmd.Flags().GetString("session-id")
		summary, _ := cmd.Flags().GetString("summary")
		addChat, _ := cmd.Flags().GetBool("add-chat")
		fail, _ := cmd.Flags().GetBool("fail")

		client := clientFor(cmd)
		err := runSend(cmd.Context(), client, cmd.InOrStdin(), sendOptions{
			SourceApp: sourceApp,
			EventType: eventType,
			SessionID: sessionID,
			Summary:   summary,
			AddChat:   addChat,
		})
		if err == nil {
			return nil
		}
		if fail {
			return err
		}
		client.logger.Warn("hook event not sent", "error", err)
		return nil
	},
}

type sendOptions struct {
	SourceApp string
	EventType string
	SessionID string
	Summary   string
	AddChat   bool
}

func runSend(ctx context.Context, client *apiClient, stdin io.Reader, opts sendOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ev, err := buildEvent(stdin, opts)
	if err != nil {
		return err
	}

	stored, err := client.sendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	client.logger.Info("hook event sent", "id", stored.ID, "session_id", stored.SessionID)
	return nil
}

type hookPayload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
}

func buildEvent(stdin io.Reader, opts sendOptions) (domain.NewEvent, error) {
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return domain.NewEvent{}, fmt.Errorf("read stdin: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var hook hookPayload
	if raw[0] != '{' || json.Unmarshal(raw, &hook) != nil {
		return domain.NewEvent{}, errors.New("stdin must contain a JSON object")
	}

	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(hook.SessionID)
	}
	if sessionID == "" {
		sessionID = unknownSession
	}

	ev := domain.NewEvent{
		SourceApp:     opts.SourceApp,
		SessionID:     sessionID,
		HookEventType: opts.EventType,
		Payload:       json.RawMessage(raw),
	}
	if s := strings.TrimSpace(opts.Summary); s != "" {
		ev.Summary = &s
	}
	if opts.AddChat && hook.TranscriptPath != "" {
		chat, err := readTranscript(hook.TranscriptPath)
		if err != nil {
			return domain.NewEvent{}, err
		}
		ev.Chat = chat
	}

	return ev.Validate()
}

// readTranscript turns a JSONL transcript into a JSON array, skipping lines
// that are not valid JSON.
func readTranscript(path string) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	entries := make([]json.RawMessage, 0, 64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 8<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		entries = append(entries, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	chat, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return chat, nil
}
