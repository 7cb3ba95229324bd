package server

import (
	"log"

	"github.com/fixdeck/host/internal/diagnostics"
)

// Broadcast sends a message to all connected clients.
// This method is non-blocking; messages are queued for delivery.
// If the server has been stopped, this method does nothing.
func (s *Server) Broadcast(msg Message) {
	// Holding RLock through the send keeps Stop from closing the channel
	// underneath us.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return
	}

	select {
	case s.broadcast <- msg:
	default:
		log.Printf("server: broadcast channel full, dropping %s", msg.Type)
	}
}

// BroadcastTreeRefresh tells clients the issue tree changed. patchPath is
// the removed patch, or empty after a reload.
func (s *Server) BroadcastTreeRefresh(patchPath string) {
	s.Broadcast(NewTreeRefreshMessage(patchPath))
}

// BroadcastAnalysisOutput forwards one analyzer output line.
func (s *Server) BroadcastAnalysisOutput(line string) {
	s.Broadcast(NewAnalysisOutputMessage(line))
}

// Diagnostics returns the collection backing diagnostics.update. Setting a
// document stores its diagnostics for late clients and broadcasts them;
// setting an empty list clears the document.
func (s *Server) Diagnostics() diagnostics.Collection {
	return diagnostics.CollectionFunc(func(document string, diags []diagnostics.Diagnostic) {
		s.diagnostics.Set(document, diags)
		s.Broadcast(NewDiagnosticsUpdateMessage(document, diags))
	})
}

// runBroadcaster reads from the broadcast channel and sends to all clients.
// This runs in its own goroutine started by Start().
func (s *Server) runBroadcaster() {
	for msg := range s.broadcast {
		s.mu.RLock()
		for client := range s.clients {
			select {
			case <-client.done:
			case client.send <- msg:
			default:
				log.Printf("server: client send buffer full, dropping %s", msg.Type)
			}
		}
		s.mu.RUnlock()
	}
}

// DiagnosticDocuments lists the documents whose diagnostics clients hold.
func (s *Server) DiagnosticDocuments() []string {
	return s.diagnostics.Documents()
}
