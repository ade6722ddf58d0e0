package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/session"
)

// Options configures a chat session.
type Options struct {
	Provider     llm.Provider
	Store        session.Store
	MCPConfig    *mcp.Config // nil or empty disables tools
	Log          zerolog.Logger
	SystemPrompt string
	Model        string
	MaxTurns     int
}

// Session is the caller-facing conversation surface. It owns the history,
// the tool router and the engine for one conversation; the store and
// provider are shared and owned by the caller. SubmitMessage calls must be
// serialized: drain the returned stream before submitting again.
type Session struct {
	id     string
	opts   Options
	router *mcp.Router
	engine *llm.Engine
	log    zerolog.Logger

	mu      sync.Mutex
	history []llm.Message
	record  *session.Session
}

// Create starts a new persisted session.
func Create(ctx context.Context, opts Options) (*Session, error) {
	record := &session.Session{
		Provider: opts.Provider.Name(),
		Model:    opts.Model,
	}
	if err := opts.Store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := newSession(record.ID, opts)
	s.record = record
	s.connectRouter(ctx)
	if opts.SystemPrompt != "" {
		s.history = append(s.history, llm.SystemText(opts.SystemPrompt))
	}
	return s, nil
}

// Open resumes an existing session: history is reloaded from the store and
// the tool router reconnected.
func Open(ctx context.Context, id string, opts Options) (*Session, error) {
	record, err := opts.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}

	stored, err := opts.Store.GetMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}

	s := newSession(record.ID, opts)
	s.record = record
	s.connectRouter(ctx)
	if opts.SystemPrompt != "" {
		s.history = append(s.history, llm.SystemText(opts.SystemPrompt))
	}
	for i := range stored {
		s.history = append(s.history, stored[i].ToLLMMessage())
	}
	return s, nil
}

func newSession(id string, opts Options) *Session {
	log := opts.Log.With().Str("session", id).Logger()
	s := &Session{
		id:     id,
		opts:   opts,
		router: mcp.NewRouter(log),
		log:    log,
	}
	s.engine = llm.NewEngine(opts.Provider, llm.NewToolRegistry(), log)
	s.engine.SetTurnCompletedCallback(s.onTurnCompleted)
	return s
}

// connectRouter brings up the tool providers. Total failure degrades the
// session to tool-less operation rather than failing it.
func (s *Session) connectRouter(ctx context.Context) {
	if s.opts.MCPConfig == nil || len(s.opts.MCPConfig.Servers) == 0 {
		return
	}
	if err := s.router.Connect(ctx, s.opts.MCPConfig); err != nil {
		if errors.Is(err, mcp.ErrAllProvidersUnreachable) {
			s.log.Warn().Err(err).Msg("no tool providers available, continuing without tools")
			return
		}
		s.log.Warn().Err(err).Msg("tool router connect failed, continuing without tools")
		return
	}
	mcp.RegisterTools(s.router, s.engine.Tools())
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Tools returns the aggregated tool catalog available to this session.
func (s *Session) Tools() []mcp.ToolSpec {
	return s.router.Catalog()
}

// History returns a snapshot of the conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// SubmitMessage persists the user message, then runs the engine over the
// accumulated history. The returned stream carries the live events of the
// whole run; finalized messages are persisted as each turn completes.
func (s *Session) SubmitMessage(ctx context.Context, text string) (llm.Stream, error) {
	userMsg := llm.UserText(text)

	// First user message doubles as the session summary for listings.
	if s.record != nil && s.record.Summary == "" {
		s.record.Summary = truncateSummary(text)
		if err := s.opts.Store.Update(ctx, s.record); err != nil {
			s.log.Warn().Err(err).Msg("failed to update session summary")
		}
	}

	// The user message is durable before any model work begins.
	if err := s.opts.Store.AddMessage(ctx, s.id, session.FromLLMMessage(s.id, userMsg)); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if err := s.opts.Store.UpdateMetrics(ctx, s.id, session.Metrics{UserTurns: 1}); err != nil {
		s.log.Warn().Err(err).Msg("failed to update session metrics")
	}

	s.mu.Lock()
	s.history = append(s.history, userMsg)
	messages := make([]llm.Message, len(s.history))
	copy(messages, s.history)
	s.mu.Unlock()

	req := llm.Request{
		Model:    s.opts.Model,
		Messages: messages,
		Tools:    s.engine.Tools().AllSpecs(),
		MaxTurns: s.opts.MaxTurns,
	}
	return s.engine.Run(ctx, req)
}

// onTurnCompleted persists each turn's finalized messages in order and folds
// them into the session history. Persistence lags live streaming by one turn
// but stays append-only and ordered.
func (s *Session) onTurnCompleted(ctx context.Context, turnIndex int, messages []llm.Message, metrics llm.TurnMetrics) error {
	s.mu.Lock()
	s.history = append(s.history, messages...)
	s.mu.Unlock()

	for i := range messages {
		if err := s.opts.Store.AddMessage(ctx, s.id, session.FromLLMMessage(s.id, messages[i])); err != nil {
			s.log.Warn().Err(err).Int("turn", turnIndex).Msg("failed to persist message")
		}
	}
	if err := s.opts.Store.UpdateMetrics(ctx, s.id, session.Metrics{
		LLMTurns:     1,
		ToolCalls:    metrics.ToolCalls,
		InputTokens:  metrics.InputTokens,
		OutputTokens: metrics.OutputTokens,
	}); err != nil {
		s.log.Warn().Err(err).Msg("failed to update session metrics")
	}
	return nil
}

// Close disconnects the tool router. The store and provider are owned by the
// caller and stay open.
func (s *Session) Close() {
	s.router.Close()
}

func truncateSummary(text string) string {
	const max = 120
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
