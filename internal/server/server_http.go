package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status          string `json:"status"`
	Clients         int    `json:"clients"`
	AnalysisRunning bool   `json:"analysisRunning"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	an := s.analyzer
	s.mu.RUnlock()

	resp := healthResponse{Status: "ok", Clients: s.ClientCount()}
	if an != nil {
		resp.AnalysisRunning = an.IsRunning()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleWebSocket upgrades an HTTP connection to a WebSocket connection.
// This is called by the HTTP server for each new connection to /ws.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	requireAuth := s.requireAuth
	tokenValidator := s.tokenValidator
	stopped := s.stopped
	s.mu.RUnlock()

	if stopped {
		http.Error(w, "server stopped", http.StatusServiceUnavailable)
		return
	}

	if requireAuth {
		token := extractBearerToken(r)
		if token == "" {
			log.Printf("server: connection rejected: missing authorization token")
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}
		if tokenValidator == nil {
			log.Printf("server: connection rejected: no token validator configured")
			http.Error(w, "Unauthorized: auth not configured", http.StatusUnauthorized)
			return
		}
		if err := tokenValidator(token); err != nil {
			log.Printf("server: connection rejected: %v", err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:            conn,
		send:            make(chan Message, channelBufferSize),
		done:            make(chan struct{}),
		server:          s,
		decisionLimiter: rate.NewLimiter(decisionRate, decisionBurst),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = true
	hello := s.hello
	an := s.analyzer
	s.mu.Unlock()

	log.Printf("server: client connected (%d total)", s.ClientCount())

	if an != nil {
		hello.AnalysisRunning = an.IsRunning()
	}
	client.send <- Message{Type: MessageTypeHello, Payload: hello}

	// writePump must drain while the diagnostics replay fills the channel.
	go client.writePump()
	s.replayDiagnostics(client)

	go client.readPump()
}

// replayDiagnostics sends the current diagnostics of every document to a
// new client. Unlike broadcasts, the replay blocks per message with a
// timeout so that a large backlog is not dropped.
func (s *Server) replayDiagnostics(c *Client) {
	for _, doc := range s.diagnostics.Documents() {
		msg := NewDiagnosticsUpdateMessage(doc, s.diagnostics.Get(doc))
		select {
		case <-c.done:
			return
		case c.send <- msg:
		case <-time.After(5 * time.Second):
			log.Printf("server: timeout replaying diagnostics for %s", doc)
		}
	}
}

// extractBearerToken extracts the token from an Authorization header.
// Supports both "Bearer <token>" header and "token" query parameter as fallback.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		const bearerPrefix = "Bearer "
		if len(auth) > len(bearerPrefix) {
			prefix := auth[:len(bearerPrefix)]
			if prefix == bearerPrefix || prefix == "bearer " {
				return auth[len(bearerPrefix):]
			}
		}
	}

	// Some WebSocket clients don't support custom headers.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
