package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/hass"
	"github.com/af-corp/hass-agent/internal/history"
	"github.com/af-corp/hass-agent/internal/llm"
	"github.com/af-corp/hass-agent/internal/prompt"
	"github.com/af-corp/hass-agent/internal/telemetry"
	"github.com/af-corp/hass-agent/internal/types"
)

// ErrClosed is returned for turns on an agent that has been torn down.
var ErrClosed = errors.New("conversation agent is torn down")

// MatchAll is the language tag meaning every language is accepted.
const MatchAll = "*"

// ContextBuilder produces the entity snapshot for a turn. It never fails.
type ContextBuilder interface {
	Build(ctx context.Context) hass.Snapshot
}

// Sender performs one chat-completions call.
type Sender interface {
	Send(ctx context.Context, req *types.ChatRequest, settings config.Settings) (*types.ChatResponse, error)
}

// State is the per-session lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting_response"
)

// Result is the outcome of one processed utterance.
type Result struct {
	Text           string   `json:"text"`
	Success        bool     `json:"success"`
	ConversationID string   `json:"conversation_id"`
	ErrorKind      llm.Kind `json:"error_kind,omitempty"`
}

// Deps are the collaborators an Agent is wired with.
type Deps struct {
	EntryID  string
	Context  ContextBuilder
	Sender   Sender
	Composer *prompt.Composer
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

type session struct {
	mu       sync.Mutex
	history  *history.Buffer
	awaiting atomic.Bool

	// Guarded by Agent.mu.
	refs     int
	lastUsed time.Time
}

// Agent is one configured conversation agent. It owns the histories of all
// of its sessions.
type Agent struct {
	entryID  string
	settings config.Settings
	context  ContextBuilder
	sender   Sender
	composer *prompt.Composer
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	now      func() time.Time
}

// NewAgent validates settings and builds an agent. Invalid settings yield a
// *config.ConfigurationError.
func NewAgent(settings config.Settings, deps Deps) (*Agent, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if deps.Context == nil || deps.Sender == nil {
		return nil, errors.New("conversation agent requires a context builder and a sender")
	}
	if deps.Composer == nil {
		deps.Composer = prompt.NewComposer(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{
		entryID:  deps.EntryID,
		settings: settings,
		context:  deps.Context,
		sender:   deps.Sender,
		composer: deps.Composer,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With("entry_id", deps.EntryID),
		sessions: make(map[string]*session),
		now:      time.Now,
	}, nil
}

func (a *Agent) Settings() config.Settings { return a.settings }

func (a *Agent) EntryID() string { return a.entryID }

// SupportedLanguages returns the language tags the agent accepts.
func (a *Agent) SupportedLanguages() []string {
	return []string{MatchAll}
}

// Process handles one user utterance. Failures are reported in the result,
// never as an error; the session history only changes on success. A session
// whose first turn fails is not kept.
func (a *Agent) Process(ctx context.Context, sessionID, text string) Result {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess, err := a.acquire(sessionID)
	if err != nil {
		return a.fail(sessionID, err)
	}
	defer a.release(sessionID, sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.awaiting.Store(true)
	defer sess.awaiting.Store(false)

	snapshot := a.context.Build(ctx)
	req := a.composer.Compose(a.settings, snapshot.Summary(a.settings.BaseLanguage()), sess.history.Snapshot(), text)

	start := time.Now()
	resp, err := a.sender.Send(ctx, req, a.settings)
	elapsed := time.Since(start)

	a.record(req, resp, err, snapshot, elapsed)

	if err != nil {
		return a.fail(sessionID, err)
	}

	sess.history.Append(types.UserTurn(text))
	sess.history.Append(types.AssistantTurn(resp.Text))

	a.logger.Debug("turn completed",
		"conversation_id", sessionID,
		"history_len", sess.history.Len(),
		"latency_ms", elapsed.Milliseconds(),
	)

	return Result{
		Text:           resp.Text,
		Success:        true,
		ConversationID: sessionID,
	}
}

func (a *Agent) fail(sessionID string, err error) Result {
	kind := llm.KindOf(err)
	a.logger.Error("conversation turn failed",
		"conversation_id", sessionID,
		"error_kind", llm.Describe(err),
		"error", err,
	)
	return Result{
		Text:           Apology(a.settings.BaseLanguage()),
		Success:        false,
		ConversationID: sessionID,
		ErrorKind:      kind,
	}
}

func (a *Agent) record(req *types.ChatRequest, resp *types.ChatResponse, err error, snapshot hass.Snapshot, elapsed time.Duration) {
	if a.metrics == nil {
		return
	}
	labels := telemetry.TurnLabels{
		Entry:           a.entryID,
		Outcome:         "success",
		DurationMs:      float64(elapsed.Milliseconds()),
		EstimatedTokens: req.EstimatedTokens,
		ContextEntities: snapshot.Total,
	}
	if err != nil {
		labels.Outcome = "failure"
		labels.ErrorKind = string(llm.KindOf(err))
	}
	if resp != nil {
		labels.PromptTokens = resp.Usage.PromptTokens
		labels.CompletionTokens = resp.Usage.CompletionTokens
	}
	a.metrics.RecordTurn(labels)
}

// acquire returns the session for id, creating it if needed, and marks a
// turn in flight on it.
func (a *Agent) acquire(id string) (*session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	sess, ok := a.sessions[id]
	if !ok {
		a.evictLocked()
		sess = &session{history: history.NewBuffer(a.settings.MaxHistory)}
		a.sessions[id] = sess
		a.reportSessions()
	}
	sess.refs++
	return sess, nil
}

// release ends a turn on sess. The last turn out drops a session that
// never completed an exchange.
func (a *Agent) release(id string, sess *session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess.refs--
	sess.lastUsed = a.now()
	if sess.refs > 0 || sess.history.Len() > 0 {
		return
	}
	if cur, ok := a.sessions[id]; ok && cur == sess {
		delete(a.sessions, id)
		a.reportSessions()
	}
}

// evictLocked drops idle sessions past the idle timeout, then the least
// recently used idle sessions until there is room for one more. Sessions
// with a turn in flight are never evicted. Must be called with a.mu held.
func (a *Agent) evictLocked() {
	now := a.now()
	evicted := 0
	if ttl := a.settings.SessionIdleTimeout; ttl > 0 {
		for id, sess := range a.sessions {
			if sess.refs == 0 && now.Sub(sess.lastUsed) > ttl {
				delete(a.sessions, id)
				evicted++
			}
		}
	}
	for a.settings.MaxSessions > 0 && len(a.sessions) >= a.settings.MaxSessions {
		oldestID := ""
		var oldest time.Time
		for id, sess := range a.sessions {
			if sess.refs > 0 {
				continue
			}
			if oldestID == "" || sess.lastUsed.Before(oldest) {
				oldestID, oldest = id, sess.lastUsed
			}
		}
		if oldestID == "" {
			break
		}
		delete(a.sessions, oldestID)
		evicted++
	}
	if evicted > 0 {
		a.logger.Debug("sessions evicted", "count", evicted, "remaining", len(a.sessions))
	}
}

// Reset forgets the history of one session. Unknown ids are ignored.
func (a *Agent) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[sessionID]; !ok {
		return
	}
	delete(a.sessions, sessionID)
	a.reportSessions()
	a.logger.Debug("session reset", "conversation_id", sessionID)
}

// History returns a copy of a session's turns, oldest first.
func (a *Agent) History(sessionID string) []types.Turn {
	a.mu.Lock()
	sess, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.history.Snapshot()
}

// State reports whether a session is idle or waiting on the endpoint.
func (a *Agent) State(sessionID string) State {
	a.mu.Lock()
	sess, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if ok && sess.awaiting.Load() {
		return StateAwaiting
	}
	return StateIdle
}

// Sessions returns the number of sessions currently held.
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Teardown discards every session. Later turns fail with ErrClosed. The
// entry's metric series are left alone; the registry drops them once the
// entry itself goes away.
func (a *Agent) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.sessions = make(map[string]*session)
	a.reportSessions()
}

// reportSessions must be called with a.mu held.
func (a *Agent) reportSessions() {
	if a.metrics != nil {
		a.metrics.SetSessions(a.entryID, len(a.sessions))
	}
}
