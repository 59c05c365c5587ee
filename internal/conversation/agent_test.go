package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/hass"
	"github.com/af-corp/hass-agent/internal/llm"
	"github.com/af-corp/hass-agent/internal/telemetry"
	"github.com/af-corp/hass-agent/internal/types"
)

type staticContext struct {
	snap hass.Snapshot
}

func (s staticContext) Build(context.Context) hass.Snapshot { return s.snap }

type stubSender struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []*types.ChatRequest
}

func (s *stubSender) Send(_ context.Context, req *types.ChatRequest, _ config.Settings) (*types.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &types.ChatResponse{Text: s.reply, StatusCode: 200}, nil
}

func (s *stubSender) last() *types.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func testSettings(endpoint string) config.Settings {
	return config.Settings{
		EndpointURL: endpoint,
		Model:       "mistral:7b",
		Temperature: 0.7,
	}.WithDefaults(config.AgentDefaults{})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(t *testing.T, settings config.Settings, sender Sender, logger *slog.Logger) *Agent {
	t.Helper()
	if logger == nil {
		logger = discardLogger()
	}
	agent, err := NewAgent(settings, Deps{
		EntryID: "entry-1",
		Context: staticContext{snap: hass.Snapshot{Readable: true}},
		Sender:  sender,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	return agent
}

func TestNewAgent_RejectsInvalidSettings(t *testing.T) {
	s := testSettings("http://localhost")
	s.MaxTokens = 5000

	_, err := NewAgent(s, Deps{Context: staticContext{}, Sender: &stubSender{}})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "max_tokens" {
		t.Errorf("expected max_tokens field, got %s", cfgErr.Field)
	}
}

func TestProcess_SuccessAppendsTurns(t *testing.T) {
	sender := &stubSender{reply: "The lights are on."}
	agent := newTestAgent(t, testSettings("http://localhost"), sender, nil)

	res := agent.Process(context.Background(), "s1", "Are the lights on?")
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Text != "The lights are on." || res.ConversationID != "s1" {
		t.Errorf("unexpected result %+v", res)
	}

	got := agent.History("s1")
	want := []types.Turn{
		types.UserTurn("Are the lights on?"),
		types.AssistantTurn("The lights are on."),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// The second turn carries the first exchange between context and user.
	agent.Process(context.Background(), "s1", "Turn them off")
	msgs := sender.last().Messages
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[2].Content != "Are the lights on?" || msgs[3].Role != "assistant" || msgs[4].Content != "Turn them off" {
		t.Errorf("unexpected message order: %+v", msgs)
	}
}

func TestProcess_GeneratesConversationID(t *testing.T) {
	agent := newTestAgent(t, testSettings("http://localhost"), &stubSender{reply: "ok"}, nil)

	res := agent.Process(context.Background(), "", "hi")
	if res.ConversationID == "" {
		t.Fatal("expected a generated conversation id")
	}
	if len(agent.History(res.ConversationID)) != 2 {
		t.Error("history should be stored under the generated id")
	}
}

func TestProcess_FailureLeavesHistoryUntouched(t *testing.T) {
	sender := &stubSender{reply: "first"}
	agent := newTestAgent(t, testSettings("http://localhost"), sender, nil)

	agent.Process(context.Background(), "s1", "hello")
	before := agent.History("s1")

	sender.err = &llm.HTTPError{StatusCode: 500, Body: "boom"}
	res := agent.Process(context.Background(), "s1", "this one fails")

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != llm.KindHTTP {
		t.Errorf("expected http_error kind, got %s", res.ErrorKind)
	}
	if res.Text != Apology("en") {
		t.Errorf("expected apology, got %q", res.Text)
	}

	after := agent.History("s1")
	if len(after) != len(before) {
		t.Fatalf("history changed on failure: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("turn %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestProcess_LocalizedApology(t *testing.T) {
	s := testSettings("http://localhost")
	s.Language = "de-AT"
	agent := newTestAgent(t, s, &stubSender{err: &llm.NetworkError{Err: errors.New("refused")}}, nil)

	res := agent.Process(context.Background(), "s1", "Hallo")
	if !strings.HasPrefix(res.Text, "Entschuldigung") {
		t.Errorf("expected German apology, got %q", res.Text)
	}
}

func TestProcess_HistoryCap(t *testing.T) {
	s := testSettings("http://localhost")
	s.MaxHistory = 4
	agent := newTestAgent(t, s, &stubSender{reply: "ok"}, nil)

	for i := 0; i < 5; i++ {
		agent.Process(context.Background(), "s1", "msg")
	}
	if n := len(agent.History("s1")); n != 4 {
		t.Errorf("expected history capped at 4, got %d", n)
	}
}

func TestReset(t *testing.T) {
	sender := &stubSender{reply: "ok"}
	agent := newTestAgent(t, testSettings("http://localhost"), sender, nil)

	agent.Process(context.Background(), "s1", "one")
	agent.Process(context.Background(), "s2", "two")
	agent.Reset("s1")

	if h := agent.History("s1"); len(h) != 0 {
		t.Errorf("expected empty history after reset, got %d turns", len(h))
	}
	if h := agent.History("s2"); len(h) != 2 {
		t.Errorf("other sessions must be untouched, got %d turns", len(h))
	}

	agent.Process(context.Background(), "s1", "again")
	if n := len(sender.last().Messages); n != 3 {
		t.Errorf("expected system, context and user only after reset, got %d messages", n)
	}

	agent.Reset("unknown")
}

func TestSupportedLanguages(t *testing.T) {
	agent := newTestAgent(t, testSettings("http://localhost"), &stubSender{}, nil)
	langs := agent.SupportedLanguages()
	if len(langs) != 1 || langs[0] != MatchAll {
		t.Errorf("expected [*], got %v", langs)
	}
}

func TestTeardown(t *testing.T) {
	agent := newTestAgent(t, testSettings("http://localhost"), &stubSender{reply: "ok"}, nil)
	agent.Process(context.Background(), "s1", "hi")
	agent.Teardown()

	if agent.Sessions() != 0 {
		t.Errorf("expected no sessions after teardown, got %d", agent.Sessions())
	}
	res := agent.Process(context.Background(), "s1", "hi")
	if res.Success {
		t.Error("turns after teardown must fail")
	}
	agent.Teardown()
}

type blockingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSender) Send(context.Context, *types.ChatRequest, config.Settings) (*types.ChatResponse, error) {
	b.entered <- struct{}{}
	<-b.release
	return &types.ChatResponse{Text: "done"}, nil
}

func TestState_AwaitingDuringCall(t *testing.T) {
	sender := &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
	agent := newTestAgent(t, testSettings("http://localhost"), sender, nil)

	if agent.State("s1") != StateIdle {
		t.Error("unknown session should be idle")
	}

	done := make(chan Result)
	go func() { done <- agent.Process(context.Background(), "s1", "hi") }()

	<-sender.entered
	if agent.State("s1") != StateAwaiting {
		t.Error("expected awaiting state while the call is in flight")
	}
	close(sender.release)
	<-done

	if agent.State("s1") != StateIdle {
		t.Error("expected idle state after the call")
	}
}

func TestProcess_SerializesSameSession(t *testing.T) {
	agent := newTestAgent(t, testSettings("http://localhost"), &stubSender{reply: "ok"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent.Process(context.Background(), "shared", "hi")
		}()
	}
	wg.Wait()

	h := agent.History("shared")
	if len(h) != 16 {
		t.Fatalf("expected 16 turns, got %d", len(h))
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != types.RoleUser || h[i+1].Role != types.RoleAssistant {
			t.Fatalf("turns interleaved at %d: %+v %+v", i, h[i], h[i+1])
		}
	}
}

func TestProcess_RecordsMetrics(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	agent, err := NewAgent(testSettings("http://localhost"), Deps{
		EntryID: "entry-1",
		Context: staticContext{snap: hass.Snapshot{Readable: true, Total: 7}},
		Sender:  &stubSender{reply: "ok"},
		Metrics: metrics,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	agent.Process(context.Background(), "s1", "hi")

	var metric dto.Metric
	if err := metrics.TurnsTotal.WithLabelValues("entry-1", "success", "").Write(&metric); err != nil {
		t.Fatal(err)
	}
	if metric.GetCounter().GetValue() != 1 {
		t.Errorf("expected 1 turn recorded, got %v", metric.GetCounter().GetValue())
	}
	metric.Reset()
	metrics.ContextEntities.WithLabelValues("entry-1").Write(&metric)
	if metric.GetGauge().GetValue() != 7 {
		t.Errorf("expected 7 context entities, got %v", metric.GetGauge().GetValue())
	}
}

// The following run the full pipeline against a stub chat-completions server.

func TestPipeline_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	agent := newTestAgent(t, testSettings(srv.URL), llm.NewClient(), nil)

	res := agent.Process(context.Background(), "s1", "hi")
	if !res.Success || res.Text != "hello" {
		t.Fatalf("expected hello, got %+v", res)
	}
	h := agent.History("s1")
	if len(h) != 2 || h[0] != types.UserTurn("hi") || h[1] != types.AssistantTurn("hello") {
		t.Errorf("unexpected history %+v", h)
	}
}

func TestPipeline_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	agent := newTestAgent(t, testSettings(srv.URL), llm.NewClient(), logger)

	res := agent.Process(context.Background(), "s1", "hi")
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Text != Apology("en") {
		t.Errorf("expected generic apology, got %q", res.Text)
	}
	if len(agent.History("s1")) != 0 {
		t.Error("history must stay empty after a failed turn")
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", logs.String(), err)
	}
	if entry["error_kind"] != "HTTPError{401}" {
		t.Errorf("expected HTTPError{401} logged, got %v", entry["error_kind"])
	}
}

func TestPipeline_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := testSettings(srv.URL)
	s.RequestTimeout = 100 * time.Millisecond
	agent := newTestAgent(t, s, llm.NewClient(), nil)

	start := time.Now()
	res := agent.Process(context.Background(), "s1", "hi")
	elapsed := time.Since(start)

	if res.Success || res.ErrorKind != llm.KindNetwork {
		t.Fatalf("expected network failure, got %+v", res)
	}
	if elapsed < 100*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("expected failure after about the timeout, took %v", elapsed)
	}
}

func TestProcess_FailedFirstTurnNotKept(t *testing.T) {
	sender := &stubSender{err: &llm.NetworkError{Err: errors.New("refused")}}
	agent := newTestAgent(t, testSettings("http://localhost"), sender, nil)

	for i := 0; i < 1000; i++ {
		agent.Process(context.Background(), "", "hi")
	}
	if n := agent.Sessions(); n != 0 {
		t.Errorf("failed one-shot turns must not leave sessions behind, got %d", n)
	}

	sender.mu.Lock()
	sender.err = nil
	sender.reply = "ok"
	sender.mu.Unlock()
	agent.Process(context.Background(), "s1", "hi")

	sender.mu.Lock()
	sender.err = &llm.HTTPError{StatusCode: 502}
	sender.mu.Unlock()
	agent.Process(context.Background(), "s1", "again")
	if len(agent.History("s1")) != 2 {
		t.Error("a later failure must keep an established session")
	}
}

func TestProcess_SessionsBounded(t *testing.T) {
	s := testSettings("http://localhost")
	s.MaxSessions = 16
	agent := newTestAgent(t, s, &stubSender{reply: "ok"}, nil)

	clock := time.Unix(0, 0)
	agent.now = func() time.Time { return clock }

	var last string
	for i := 0; i < 1000; i++ {
		clock = clock.Add(time.Second)
		last = agent.Process(context.Background(), "", "hi").ConversationID
	}
	if n := agent.Sessions(); n > 16 {
		t.Errorf("expected at most 16 sessions, got %d", n)
	}
	if len(agent.History(last)) != 2 {
		t.Error("the most recent session must survive eviction")
	}
}

func TestProcess_EvictsLeastRecentlyUsed(t *testing.T) {
	s := testSettings("http://localhost")
	s.MaxSessions = 2
	agent := newTestAgent(t, s, &stubSender{reply: "ok"}, nil)

	clock := time.Unix(0, 0)
	agent.now = func() time.Time { return clock }
	turn := func(id string) {
		clock = clock.Add(time.Second)
		agent.Process(context.Background(), id, "hi")
	}

	turn("a")
	turn("b")
	turn("a")
	turn("c")

	if len(agent.History("b")) != 0 {
		t.Error("expected the least recently used session to be evicted")
	}
	if len(agent.History("a")) != 4 || len(agent.History("c")) != 2 {
		t.Error("recently used sessions must be kept")
	}
}

func TestProcess_IdleSessionsExpire(t *testing.T) {
	s := testSettings("http://localhost")
	s.SessionIdleTimeout = time.Minute
	agent := newTestAgent(t, s, &stubSender{reply: "ok"}, nil)

	clock := time.Unix(0, 0)
	agent.now = func() time.Time { return clock }

	agent.Process(context.Background(), "old", "hi")
	clock = clock.Add(30 * time.Second)
	agent.Process(context.Background(), "recent", "hi")
	clock = clock.Add(45 * time.Second)
	agent.Process(context.Background(), "new", "hi")

	if len(agent.History("old")) != 0 {
		t.Error("expected the idle session to expire")
	}
	if len(agent.History("recent")) != 2 {
		t.Error("sessions within the idle timeout must be kept")
	}
	if agent.Sessions() != 2 {
		t.Errorf("expected 2 sessions, got %d", agent.Sessions())
	}
}

type holdingSender struct {
	entered chan struct{}
	release chan struct{}
}

func (h *holdingSender) Send(_ context.Context, req *types.ChatRequest, _ config.Settings) (*types.ChatResponse, error) {
	if req.Messages[len(req.Messages)-1].Content == "hold" {
		h.entered <- struct{}{}
		<-h.release
	}
	return &types.ChatResponse{Text: "ok"}, nil
}

func TestProcess_EvictionSkipsInFlightSessions(t *testing.T) {
	s := testSettings("http://localhost")
	s.MaxSessions = 1
	sender := &holdingSender{entered: make(chan struct{}), release: make(chan struct{})}
	agent := newTestAgent(t, s, sender, nil)

	done := make(chan Result)
	go func() { done <- agent.Process(context.Background(), "busy", "hold") }()
	<-sender.entered

	agent.Process(context.Background(), "other", "hi")

	close(sender.release)
	if res := <-done; !res.Success {
		t.Fatalf("in-flight turn failed: %+v", res)
	}
	if len(agent.History("busy")) != 2 {
		t.Error("a session with a turn in flight must not be evicted")
	}
}
