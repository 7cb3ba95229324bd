package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"

	// gorilla/websocket provides the WebSocket protocol implementation.
	"github.com/gorilla/websocket"

	// Rate limiting for decision messages to prevent flooding.
	"golang.org/x/time/rate"

	"github.com/fixdeck/host/internal/actions"
	"github.com/fixdeck/host/internal/analyzer"
	"github.com/fixdeck/host/internal/diagnostics"
	"github.com/fixdeck/host/internal/issues"
)

// channelBufferSize is the buffer size for the broadcast channel and per-client
// send channels. If a buffer fills up, messages are dropped for slow clients.
const channelBufferSize = 256

// DefaultMaxMessageSize bounds one incoming WebSocket message.
const DefaultMaxMessageSize = 512 * 1024

// Decision rate limit per client: sustained rate and burst.
const (
	decisionRate  = rate.Limit(20)
	decisionBurst = 5
)

// Decider performs decisions on patches. *actions.Engine implements it.
type Decider interface {
	Apply(ctx context.Context, patchPath, reason string) (*actions.Outcome, error)
	Decline(ctx context.Context, patchPath, reason string) (*actions.Outcome, error)
	Undo(ctx context.Context, reason string) (*actions.Outcome, error)
	Preview(patchPath string) (*actions.Preview, error)
}

// IssueSource exposes the issue tree. *issues.Store implements it.
type IssueSource interface {
	Tree() *issues.Tree
	Filter(query string) *issues.Tree
	FixesFor(file string) []issues.Fix
}

// Analyzer starts analyzer runs. *analyzer.Runner implements it.
type Analyzer interface {
	Run(ctx context.Context, target string) (*analyzer.Result, error)
	IsRunning() bool
}

// TokenValidator validates bearer tokens for WebSocket connections.
type TokenValidator func(token string) error

// AnalysisDoneHandler is called after an analyzer run requested by a client
// finishes, before the result is sent.
type AnalysisDoneHandler func(res *analyzer.Result, err error)

// Server manages WebSocket connections and broadcasts messages to clients.
type Server struct {
	// addr is the address to listen on (e.g., "127.0.0.1:7171")
	addr string

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	// clients tracks all connected WebSocket clients.
	clients map[*Client]bool

	// mu protects clients, stopped and the handler fields.
	mu sync.RWMutex

	// stopped indicates whether the server has been stopped.
	// This prevents sending to a closed broadcast channel.
	stopped bool

	// broadcast receives messages to send to all clients.
	broadcast chan Message

	// httpServer is the underlying HTTP server for graceful shutdown.
	httpServer *http.Server

	// ctx is cancelled by Stop; request handlers and analyzer runs use it.
	ctx    context.Context
	cancel context.CancelFunc

	// hello is sent to every client on connect.
	hello HelloPayload

	// maxMessageSize bounds incoming messages.
	maxMessageSize int

	decider      Decider
	issueSource  IssueSource
	analyzer     Analyzer
	analysisDone AnalysisDoneHandler

	// diagnostics holds the last diagnostics of every document; new
	// clients receive all of them on connect.
	diagnostics *diagnostics.MemoryCollection

	tokenValidator TokenValidator
	requireAuth    bool

	// tlsConfig, when set, makes the bridge serve wss:// and https://.
	tlsConfig *tls.Config
}

// Client represents a single WebSocket connection.
// Each client has its own goroutine for writing messages,
// which prevents slow clients from blocking the broadcast.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages.
	send chan Message

	// done is closed to signal the client should shut down.
	done chan struct{}

	// sendOnce ensures done is only closed once.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// decisionLimiter rate-limits apply, decline and undo messages.
	decisionLimiter *rate.Limiter
}

// NewServer creates a new WebSocket server.
// Call Start() or StartAsync() to begin accepting connections.
func NewServer(addr string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:           addr,
		clients:        make(map[*Client]bool),
		broadcast:      make(chan Message, channelBufferSize),
		ctx:            ctx,
		cancel:         cancel,
		maxMessageSize: DefaultMaxMessageSize,
		diagnostics:    diagnostics.NewMemoryCollection(),
		upgrader: websocket.Upgrader{
			// Editor extensions connect from arbitrary origins (webviews,
			// remote workspaces); auth is by bearer token.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SetHello sets the payload sent to new clients.
func (s *Server) SetHello(hello HelloPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hello = hello
}

// SetMaxMessageSize overrides DefaultMaxMessageSize.
func (s *Server) SetMaxMessageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxMessageSize = n
}

// SetDecider sets the handler for patch.apply, patch.decline, patch.undo
// and patch.preview. If nil, those messages fail with
// server.handler_missing.
func (s *Server) SetDecider(d Decider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decider = d
}

// SetIssueSource sets the tree used by issues.list and diagnostics.request.
func (s *Server) SetIssueSource(src IssueSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueSource = src
}

// SetAnalyzer sets the runner used by analysis.run.
func (s *Server) SetAnalyzer(a Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer = a
}

// SetAnalysisDoneHandler sets the callback run after a client-requested
// analysis finishes.
func (s *Server) SetAnalysisDoneHandler(h AnalysisDoneHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisDone = h
}

// SetTokenValidator sets the validator for WebSocket authentication.
func (s *Server) SetTokenValidator(validator TokenValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenValidator = validator
}

// SetRequireAuth controls whether connections must carry a valid token.
func (s *Server) SetRequireAuth(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = require
}

// SetTLSConfig serves the bridge over TLS. It must be called before the
// server starts.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tlsConfig = cfg
}
