package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fixdeck/host/internal/actions"
	"github.com/fixdeck/host/internal/analyzer"
	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/issues"
	hosttls "github.com/fixdeck/host/internal/tls"
)

// fakeDecider records calls and returns canned results.
type fakeDecider struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeDecider) outcome(decision, patchPath string) (*actions.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, decision+":"+patchPath)
	if f.err != nil {
		return nil, f.err
	}
	return &actions.Outcome{ID: "id-1", Decision: decision, PatchPath: patchPath}, nil
}

func (f *fakeDecider) Apply(_ context.Context, p, _ string) (*actions.Outcome, error) {
	return f.outcome(actions.DecisionApplied, p)
}

func (f *fakeDecider) Decline(_ context.Context, p, _ string) (*actions.Outcome, error) {
	return f.outcome(actions.DecisionDeclined, p)
}

func (f *fakeDecider) Undo(_ context.Context, _ string) (*actions.Outcome, error) {
	return f.outcome(actions.DecisionUndone, "last.diff")
}

func (f *fakeDecider) Preview(p string) (*actions.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &actions.Preview{PatchPath: p, Left: "a\n", Right: "b\n", Applies: true}, nil
}

// fakeIssues serves a fixed tree with one issue in A.java.
type fakeIssues struct {
	mu        sync.Mutex
	lastQuery string
}

func (f *fakeIssues) query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeIssues) Tree() *issues.Tree {
	return &issues.Tree{Groups: []*issues.Group{{Key: "UNINIT_FIELD", SourceFileName: "A.java"}}}
}

func (f *fakeIssues) Filter(q string) *issues.Tree {
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	return &issues.Tree{}
}

func (f *fakeIssues) FixesFor(file string) []issues.Fix {
	if file != "A.java" {
		return nil
	}
	return []issues.Fix{{
		GroupKey:  "UNINIT_FIELD",
		TextRange: issues.TextRange{StartLine: 2, StartColumn: 2, EndLine: 2, EndColumn: 8},
		Patch:     issues.Patch{Path: "p1.diff", Explanation: "initialize x", Score: 0.9},
	}}
}

// fakeAnalyzer blocks Run until release is closed.
type fakeAnalyzer struct {
	running atomicBool
	release chan struct{}
	err     error
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

func (f *fakeAnalyzer) Run(ctx context.Context, target string) (*analyzer.Result, error) {
	f.running.set(true)
	defer f.running.set(false)
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &analyzer.Result{ID: "run-1", Target: target}, nil
}

func (f *fakeAnalyzer) IsRunning() bool { return f.running.get() }

type wireMessage struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type wireResult struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"errorCode"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("unused")
	go s.runBroadcaster()

	ts := httptest.NewServer(s.createMux())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// dial connects and consumes the hello message.
func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if msg := readMessage(t, conn); msg.Type != MessageTypeHello {
		t.Fatalf("expected %s, got %s", MessageTypeHello, msg.Type)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

// readUntil reads messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) wireMessage {
	t.Helper()
	for range 10 {
		if msg := readMessage(t, conn); msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return wireMessage{}
}

func send(t *testing.T, conn *websocket.Conn, typ MessageType, id string, payload interface{}) {
	t.Helper()
	if err := conn.WriteJSON(Message{Type: typ, ID: id, Payload: payload}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func result(t *testing.T, msg wireMessage) wireResult {
	t.Helper()
	var r wireResult
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return r
}

func TestWebSocket_HelloCarriesHostInfo(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetHello(HelloPayload{Version: "1.2.3", ProjectRoot: "/work"})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("expected hello, got %s", msg.Type)
	}
	var hello HelloPayload
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		t.Fatal(err)
	}
	if hello.Version != "1.2.3" || hello.ProjectRoot != "/work" {
		t.Errorf("unexpected hello: %+v", hello)
	}
}

func TestDecision_ApplyDeclineUndo(t *testing.T) {
	s, ts := newTestServer(t)
	d := &fakeDecider{}
	s.SetDecider(d)
	conn := dial(t, ts)

	tests := []struct {
		typ      MessageType
		patch    string
		decision string
	}{
		{MessageTypePatchApply, "p1.diff", actions.DecisionApplied},
		{MessageTypePatchDecline, "p2.diff", actions.DecisionDeclined},
		{MessageTypePatchUndo, "", actions.DecisionUndone},
	}
	for i, tt := range tests {
		id := string(rune('a' + i))
		send(t, conn, tt.typ, id, DecisionPayload{PatchPath: tt.patch, Reason: "why"})

		msg := readMessage(t, conn)
		if msg.Type != ResultType(tt.typ) || msg.ID != id {
			t.Fatalf("%s: got %s id=%q", tt.typ, msg.Type, msg.ID)
		}
		r := result(t, msg)
		if !r.Success {
			t.Fatalf("%s failed: %s %s", tt.typ, r.ErrorCode, r.Error)
		}
		var outcome actions.Outcome
		if err := json.Unmarshal(r.Data, &outcome); err != nil {
			t.Fatal(err)
		}
		if outcome.Decision != tt.decision {
			t.Errorf("%s: decision = %q", tt.typ, outcome.Decision)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	want := actions.DecisionApplied + ":p1.diff," +
		actions.DecisionDeclined + ":p2.diff," +
		actions.DecisionUndone + ":last.diff"
	if got := strings.Join(d.calls, ","); got != want {
		t.Errorf("calls = %s, want %s", got, want)
	}
}

func TestDecision_ErrorCodes(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	// No decider configured.
	send(t, conn, MessageTypePatchApply, "1", DecisionPayload{PatchPath: "p1.diff"})
	if r := result(t, readMessage(t, conn)); r.ErrorCode != apperrors.CodeServerHandlerMissing {
		t.Errorf("expected %s, got %s", apperrors.CodeServerHandlerMissing, r.ErrorCode)
	}

	s.SetDecider(&fakeDecider{err: apperrors.PatchApplyFailed("A.java", "hunk 1 not found")})

	send(t, conn, MessageTypePatchApply, "2", DecisionPayload{})
	if r := result(t, readMessage(t, conn)); r.ErrorCode != apperrors.CodeServerInvalidMessage {
		t.Errorf("expected %s for missing patchPath, got %s", apperrors.CodeServerInvalidMessage, r.ErrorCode)
	}

	send(t, conn, MessageTypePatchApply, "3", DecisionPayload{PatchPath: "p1.diff"})
	r := result(t, readMessage(t, conn))
	if r.Success || r.ErrorCode != apperrors.CodePatchApplyFailed {
		t.Errorf("expected %s, got %+v", apperrors.CodePatchApplyFailed, r)
	}

	send(t, conn, MessageTypePatchPreview, "4", PreviewPayload{PatchPath: "p1.diff"})
	if r := result(t, readMessage(t, conn)); r.ErrorCode != apperrors.CodePatchApplyFailed {
		t.Errorf("preview: expected %s, got %s", apperrors.CodePatchApplyFailed, r.ErrorCode)
	}
}

func TestDecision_RateLimited(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetDecider(&fakeDecider{})
	conn := dial(t, ts)

	const n = 30
	for range n {
		send(t, conn, MessageTypePatchDecline, "", DecisionPayload{PatchPath: "p1.diff"})
	}

	limited := 0
	for range n {
		if result(t, readMessage(t, conn)).ErrorCode == apperrors.CodeServerRateLimited {
			limited++
		}
	}
	if limited == 0 {
		t.Error("expected some decisions to be rate limited")
	}
}

func TestPreview_ReturnsBothSides(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetDecider(&fakeDecider{})
	conn := dial(t, ts)

	send(t, conn, MessageTypePatchPreview, "pv", PreviewPayload{PatchPath: "p1.diff"})
	r := result(t, readUntil(t, conn, ResultType(MessageTypePatchPreview)))
	var pv actions.Preview
	if err := json.Unmarshal(r.Data, &pv); err != nil {
		t.Fatal(err)
	}
	if !pv.Applies || pv.Left != "a\n" || pv.Right != "b\n" {
		t.Errorf("unexpected preview: %+v", pv)
	}
}

func TestIssuesList(t *testing.T) {
	s, ts := newTestServer(t)
	src := &fakeIssues{}
	s.SetIssueSource(src)
	conn := dial(t, ts)

	send(t, conn, MessageTypeIssuesList, "1", nil)
	r := result(t, readMessage(t, conn))
	var tree issues.Tree
	if err := json.Unmarshal(r.Data, &tree); err != nil {
		t.Fatal(err)
	}
	if len(tree.Groups) != 1 || tree.Groups[0].Key != "UNINIT_FIELD" {
		t.Errorf("unexpected tree: %+v", tree)
	}

	send(t, conn, MessageTypeIssuesList, "2", IssuesListPayload{Query: " uninit "})
	readMessage(t, conn)
	if q := src.query(); q != "uninit" {
		t.Errorf("filter query = %q", q)
	}
}

func TestDiagnostics_RequestBroadcastsAndReplays(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetIssueSource(&fakeIssues{})
	a := dial(t, ts)
	b := dial(t, ts)

	send(t, a, MessageTypeDiagnosticsRequest, "d", DiagnosticsRequestPayload{File: "A.java"})

	r := result(t, readUntil(t, a, ResultType(MessageTypeDiagnosticsRequest)))
	var diags []map[string]interface{}
	if err := json.Unmarshal(r.Data, &diags); err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}

	update := readUntil(t, b, MessageTypeDiagnosticsUpdate)
	var p DiagnosticsUpdatePayload
	if err := json.Unmarshal(update.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.File != "A.java" || len(p.Diagnostics) != 1 || p.Diagnostics[0].Range.Start.Line != 1 {
		t.Errorf("unexpected update: %+v", p)
	}

	// A late client receives the stored diagnostics on connect.
	c := dial(t, ts)
	replay := readMessage(t, c)
	if replay.Type != MessageTypeDiagnosticsUpdate {
		t.Errorf("expected replayed diagnostics, got %s", replay.Type)
	}
}

func TestAnalysisRun(t *testing.T) {
	s, ts := newTestServer(t)
	an := &fakeAnalyzer{release: make(chan struct{})}
	s.SetAnalyzer(an)

	doneCh := make(chan *analyzer.Result, 1)
	s.SetAnalysisDoneHandler(func(res *analyzer.Result, err error) { doneCh <- res })
	conn := dial(t, ts)

	send(t, conn, MessageTypeAnalysisRun, "run", AnalysisRunPayload{File: "A.java"})

	deadline := time.Now().Add(2 * time.Second)
	for !an.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	send(t, conn, MessageTypeAnalysisRun, "again", nil)
	second := readMessage(t, conn)
	if second.ID != "again" || result(t, second).ErrorCode != apperrors.CodeAnalysisAlreadyRunning {
		t.Fatalf("expected already_running for second run, got %+v", result(t, second))
	}

	close(an.release)
	msg := readMessage(t, conn)
	if msg.ID != "run" || !result(t, msg).Success {
		t.Fatalf("unexpected run result: %+v", result(t, msg))
	}
	select {
	case res := <-doneCh:
		if res == nil || res.Target != "A.java" {
			t.Errorf("done handler got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("done handler not called")
	}
}

func TestAnalysisRun_NotConfigured(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, MessageTypeAnalysisRun, "x", nil)
	if r := result(t, readMessage(t, conn)); r.ErrorCode != apperrors.CodeAnalysisNotConfigured {
		t.Errorf("expected %s, got %s", apperrors.CodeAnalysisNotConfigured, r.ErrorCode)
	}
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "bogus.type", "1", nil)
	msg := readMessage(t, conn)
	if msg.Type != "bogus.type.result" || result(t, msg).ErrorCode != apperrors.CodeServerInvalidMessage {
		t.Errorf("unexpected response to unknown type: %+v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	msg = readMessage(t, conn)
	if msg.Type != MessageTypeError {
		t.Errorf("expected error message, got %s", msg.Type)
	}
}

func TestBroadcastTreeRefreshAndOutput(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	s.BroadcastTreeRefresh("p1.diff")
	s.BroadcastAnalysisOutput("scanning")

	msg := readMessage(t, conn)
	var refresh TreeRefreshPayload
	json.Unmarshal(msg.Payload, &refresh)
	if msg.Type != MessageTypeTreeRefresh || refresh.PatchPath != "p1.diff" {
		t.Errorf("unexpected refresh: %s %+v", msg.Type, refresh)
	}

	msg = readMessage(t, conn)
	var out AnalysisOutputPayload
	json.Unmarshal(msg.Payload, &out)
	if msg.Type != MessageTypeAnalysisOutput || out.Line != "scanning" {
		t.Errorf("unexpected output: %s %+v", msg.Type, out)
	}
}

func TestAuth_RequiresValidToken(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetRequireAuth(true)
	s.SetTokenValidator(func(token string) error {
		if token != "secret" {
			return errors.New("bad token")
		}
		return nil
	})

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil); err == nil {
		t.Fatal("expected dial without token to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}

	header := http.Header{"Authorization": []string{"Bearer wrong"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header); err == nil {
		t.Fatal("expected dial with wrong token to fail")
	}

	header = http.Header{"Authorization": []string{"Bearer secret"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), header)
	if err != nil {
		t.Fatalf("dial with valid token failed: %v", err)
	}
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL(ts.URL)+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with query token failed: %v", err)
	}
	conn.Close()
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Errorf("unexpected health: %d %+v", resp.StatusCode, body)
	}
}

func TestStartAsyncFailsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := NewServer(ln.Addr().String())
	if err := <-s.StartAsync(); err == nil {
		s.Stop()
		t.Fatal("expected error for port in use")
	}
}

func TestStartListenerAndStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer("unused")
	if err := <-s.StartListener(ln); err != nil {
		t.Fatalf("StartListener failed: %v", err)
	}
	if s.Addr() != ln.Addr().String() {
		t.Errorf("Addr = %s, want %s", s.Addr(), ln.Addr())
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	s.Broadcast(NewTreeRefreshMessage("")) // no panic after stop
}

func TestStartListenerTLS(t *testing.T) {
	cert, err := hosttls.Ensure(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer("unused")
	s.SetTLSConfig(cert.ServerConfig())
	if err := <-s.StartListener(ln); err != nil {
		t.Fatalf("StartListener failed: %v", err)
	}
	defer s.Stop()

	if _, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/ws", nil); err == nil {
		t.Fatal("expected plain ws dial to fail against a TLS bridge")
	}

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	conn, _, err := dialer.Dial("wss://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("wss dial failed: %v", err)
	}
	defer conn.Close()
	if msg := readMessage(t, conn); msg.Type != MessageTypeHello {
		t.Fatalf("expected %s, got %s", MessageTypeHello, msg.Type)
	}
}
