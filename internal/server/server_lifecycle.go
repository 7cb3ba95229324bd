package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
)

// Start begins listening for WebSocket connections.
// This method blocks, so call it in a goroutine if you need to do other work.
// For non-blocking startup with error handling, use StartAsync() instead.
func (s *Server) Start() error {
	s.mu.RLock()
	tlsConfig := s.tlsConfig
	s.mu.RUnlock()

	s.httpServer = &http.Server{
		Addr:      s.addr,
		Handler:   s.createMux(),
		TLSConfig: tlsConfig,
	}

	go s.runBroadcaster()

	log.Printf("server: listening on %s", s.addr)

	// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
	if tlsConfig != nil {
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}
	s.serve(ln, errCh)
	return errCh
}

// StartListener serves on an existing listener. The bound address replaces
// the configured one, which lets callers listen on port 0.
func (s *Server) StartListener(ln net.Listener) <-chan error {
	errCh := make(chan error, 1)
	s.addr = ln.Addr().String()
	s.serve(ln, errCh)
	return errCh
}

func (s *Server) serve(ln net.Listener, errCh chan<- error) {
	s.httpServer = &http.Server{
		Handler: s.createMux(),
	}

	s.mu.RLock()
	tlsConfig := s.tlsConfig
	s.mu.RUnlock()
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	go s.runBroadcaster()

	go func() {
		log.Printf("server: listening on %s", ln.Addr())
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
// It signals all clients to close, cancels running handlers and stops
// accepting new connections. Calling Stop twice is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	// writePump sends the close frame when it sees done closed.
	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)

	// Closing after stopped=true prevents panics from concurrent Broadcast.
	close(s.broadcast)
	s.cancel()

	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
