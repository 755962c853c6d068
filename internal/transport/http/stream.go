// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/adiadia/agent-observability/internal/domain"
	"github.com/adiadia/agent-observability/internal/stream"
	"github.com/gorilla/websocket"
)

func streamHandler(deps Deps, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.CORSOrigins),
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			writeError(w, status, codeProtocolError, reason.Error())
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("stream upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		client := stream.NewClient(conn, deps.Stream)
		if err := deps.Streams.Attach(r.Context(), client); err != nil {
			if errors.Is(err, domain.ErrShuttingDown) {
				client.Close(websocket.CloseGoingAway, "server shutting down")
				return
			}
			logger.Error("stream attach failed", "client_id", client.ID(), "error", err)
			client.Close(websocket.CloseInternalServerErr, "failed to load recent events")
			return
		}
		defer deps.Streams.Detach(client)

		client.Run()
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and origins listed in allowed. "*" allows any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
