package service

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"chat-relay/backend/ai"
	"chat-relay/backend/internal/models"
	"chat-relay/backend/internal/repository"
	"chat-relay/backend/pkg/errors"
	"chat-relay/backend/pkg/logger"
	"chat-relay/backend/pkg/metrics"
	"chat-relay/backend/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "chat-relay/backend/internal/service"

// TurnState is the lifecycle position of a single chat turn
type TurnState string

const (
	StateReceived       TurnState = "RECEIVED"
	StateValidated      TurnState = "VALIDATED"
	StateHistoryLoaded  TurnState = "HISTORY_LOADED"
	StateUpstreamCalled TurnState = "UPSTREAM_CALLED"
	StatePersisted      TurnState = "PERSISTED"
	StateFailed         TurnState = "FAILED"
)

// RelayConfig holds the tunables of the chat relay
type RelayConfig struct {
	SystemPrompt     string
	Timeout          time.Duration
	MaxMessageLength int
}

// TurnResult is the outcome of a successful turn
type TurnResult struct {
	ConversationID   string
	AIText           string
	UserMessage      *models.Message
	AssistantMessage *models.Message
}

// ChatRelay validates a user message, forwards the conversation history to
// the upstream model and persists the exchange once the upstream answered.
// Nothing is written when the upstream call fails.
type ChatRelay struct {
	store     repository.ConversationStore
	completer ai.Completer
	breaker   *resilience.CircuitBreaker
	cfg       RelayConfig
	log       *logger.Logger
	tracer    trace.Tracer
	latency   metric.Float64Histogram
}

// NewChatRelay creates a relay. breaker may be nil.
func NewChatRelay(store repository.ConversationStore, completer ai.Completer, breaker *resilience.CircuitBreaker, cfg RelayConfig, log *logger.Logger) *ChatRelay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	r := &ChatRelay{
		store:     store,
		completer: completer,
		breaker:   breaker,
		cfg:       cfg,
		log:       log,
		tracer:    otel.Tracer(instrumentationName),
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"chat_relay.upstream.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of upstream completion calls."),
	)
	if err != nil {
		log.LogError(err, "Failed to create upstream latency histogram")
	} else {
		r.latency = latency
	}

	return r
}

// turn tracks one request through the state machine for logs and metrics
type turn struct {
	op    string
	state TurnState
	start time.Time
	log   *logger.Logger
}

func (r *ChatRelay) newTurn(ctx context.Context, op string) *turn {
	return &turn{
		op:    op,
		state: StateReceived,
		start: time.Now(),
		log:   logger.FromContext(ctx, r.log),
	}
}

func (t *turn) advance(state TurnState) {
	t.state = state
}

func (t *turn) fail(err error) error {
	metrics.ObserveTurn(string(StateFailed), string(t.state))
	t.log.Warn("Chat turn failed",
		"operation", t.op,
		"stage", t.state,
		"status", errors.GetStatusCode(err),
		"error", err,
	)
	t.state = StateFailed
	return err
}

func (t *turn) persisted() {
	metrics.ObserveTurn(string(StatePersisted), string(t.state))
	t.state = StatePersisted
	t.log.Info("Chat turn persisted",
		"operation", t.op,
		"duration_ms", time.Since(t.start).Milliseconds(),
	)
}

// HandleTurn answers text within conversationID, or within a new
// conversation when conversationID is empty
func (r *ChatRelay) HandleTurn(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	t := r.newTurn(ctx, "chat")

	text, err := r.validate(text)
	if err != nil {
		return nil, t.fail(err)
	}
	t.advance(StateValidated)

	var history []models.Message
	if conversationID != "" {
		t.log = t.log.WithConversationID(conversationID)
		history, err = r.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, t.fail(err)
		}
	}
	t.advance(StateHistoryLoaded)

	return r.appendTurn(ctx, t, conversationID, history, text)
}

// RegenerateLatest replaces the latest user turn of conversationID with
// text and regenerates the assistant reply that follows it
func (r *ChatRelay) RegenerateLatest(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	t := r.newTurn(ctx, "regenerate")

	text, err := r.validate(text)
	if err != nil {
		return nil, t.fail(err)
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, t.fail(errors.NewValidationError("conversation_id is required"))
	}
	t.advance(StateValidated)

	t.log = t.log.WithConversationID(conversationID)
	history, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, t.fail(err)
	}
	t.advance(StateHistoryLoaded)

	idx := lastUserIndex(history)
	if idx < 0 {
		return r.appendTurn(ctx, t, conversationID, history, text)
	}

	t.advance(StateUpstreamCalled)
	reply, err := r.complete(ctx, r.buildPrompt(history[:idx], text))
	if err != nil {
		return nil, t.fail(err)
	}

	result := &TurnResult{ConversationID: conversationID, AIText: reply}
	err = r.store.InTransaction(ctx, func(tx repository.ConversationStore) error {
		userMsg, err := tx.UpdateMessage(ctx, history[idx].ID, text)
		if err != nil {
			return err
		}

		var aiMsg *models.Message
		if next := idx + 1; next < len(history) && !history[next].IsUser {
			aiMsg, err = tx.UpdateMessage(ctx, history[next].ID, reply)
		} else {
			aiMsg, err = tx.AppendMessage(ctx, conversationID, reply, false, r.completer.Model())
		}
		if err != nil {
			return err
		}

		result.UserMessage = userMsg
		result.AssistantMessage = aiMsg
		return nil
	})
	if err != nil {
		return nil, t.fail(err)
	}

	t.persisted()
	return result, nil
}

// appendTurn calls the upstream with history plus text and appends both
// turns. A new conversation is created only once the upstream succeeded.
func (r *ChatRelay) appendTurn(ctx context.Context, t *turn, conversationID string, history []models.Message, text string) (*TurnResult, error) {
	t.advance(StateUpstreamCalled)
	reply, err := r.complete(ctx, r.buildPrompt(history, text))
	if err != nil {
		return nil, t.fail(err)
	}

	created := false
	result := &TurnResult{ConversationID: conversationID, AIText: reply}
	err = r.store.InTransaction(ctx, func(tx repository.ConversationStore) error {
		id := conversationID
		if id == "" {
			conv, err := tx.CreateConversation(ctx)
			if err != nil {
				return err
			}
			id = conv.ID
			created = true
		}

		userMsg, err := tx.AppendMessage(ctx, id, text, true, "")
		if err != nil {
			return err
		}
		aiMsg, err := tx.AppendMessage(ctx, id, reply, false, r.completer.Model())
		if err != nil {
			return err
		}

		result.ConversationID = id
		result.UserMessage = userMsg
		result.AssistantMessage = aiMsg
		return nil
	})
	if err != nil {
		return nil, t.fail(err)
	}

	if created {
		metrics.ConversationCreated()
		t.log = t.log.WithConversationID(result.ConversationID)
	}
	t.persisted()
	return result, nil
}

func (r *ChatRelay) validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.NewValidationError("message must not be empty")
	}
	if limit, n := r.cfg.MaxMessageLength, utf8.RuneCountInString(text); limit > 0 && n > limit {
		return "", errors.ValidationWithDetails("message is too long", map[string]any{
			"max_length": limit,
			"length":     n,
		})
	}
	return text, nil
}

func (r *ChatRelay) buildPrompt(history []models.Message, text string) []ai.ChatMessage {
	prompt := make([]ai.ChatMessage, 0, len(history)+2)
	if r.cfg.SystemPrompt != "" {
		prompt = append(prompt, ai.ChatMessage{Role: ai.RoleSystem, Content: r.cfg.SystemPrompt})
	}
	for _, m := range history {
		role := ai.RoleAssistant
		if m.IsUser {
			role = ai.RoleUser
		}
		prompt = append(prompt, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return append(prompt, ai.ChatMessage{Role: ai.RoleUser, Content: text})
}

func lastUserIndex(history []models.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsUser {
			return i
		}
	}
	return -1
}

// complete makes exactly one upstream call bounded by the configured timeout
func (r *ChatRelay) complete(ctx context.Context, prompt []ai.ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	provider := r.completer.Provider()
	callCtx, span := r.tracer.Start(callCtx, "upstream.complete", trace.WithAttributes(
		attribute.String("upstream.provider", provider),
		attribute.String("upstream.model", r.completer.Model()),
		attribute.Int("chat.prompt_messages", len(prompt)),
	))
	defer span.End()

	var reply string
	call := func() error {
		var err error
		reply, err = r.completer.Complete(callCtx, prompt)
		return err
	}

	start := time.Now()
	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(call)
	} else {
		err = call()
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if r.latency != nil {
		r.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		))
	}

	if err != nil {
		return "", r.classify(callCtx, err)
	}
	return reply, nil
}

// classify maps an upstream failure onto the error taxonomy
func (r *ChatRelay) classify(callCtx context.Context, err error) error {
	provider := r.completer.Provider()

	if stderrors.Is(err, resilience.ErrCircuitOpen) {
		metrics.ObserveUpstreamError(provider, "circuit_open")
		return errors.UpstreamWithDetails(errors.CodeUpstreamUnavailable, "Upstream service is temporarily unavailable", map[string]any{
			"provider": provider,
		}).Wrap(err)
	}

	// Caller cancellation, not an upstream failure
	if stderrors.Is(callCtx.Err(), context.Canceled) {
		return errors.NewClientClosedError("Request canceled by the client").Wrap(err)
	}

	if IsTimeout(err) || stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		metrics.ObserveUpstreamError(provider, "timeout")
		return errors.NewGatewayTimeoutError(errors.CodeUpstreamTimeout, "Upstream did not respond in time").
			WithDetails(map[string]any{
				"provider":        provider,
				"timeout_seconds": r.cfg.Timeout.Seconds(),
			}).
			Wrap(err)
	}

	details := map[string]any{
		"provider":        provider,
		"upstream_status": nil,
		"detail":          err.Error(),
	}
	kind := string(ai.KindTransport)

	var upErr *ai.UpstreamError
	if stderrors.As(err, &upErr) {
		kind = string(upErr.Kind)
		details["detail"] = upErr.Detail
		if upErr.StatusCode != 0 {
			details["upstream_status"] = upErr.StatusCode
		}
	}

	metrics.ObserveUpstreamError(provider, kind)
	return errors.UpstreamWithDetails(errors.CodeUpstream, "Upstream model request failed", details).Wrap(err)
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// CountsAgainstCircuit reports whether an upstream error should trip the
// circuit breaker. Cancellation by the caller does not.
func CountsAgainstCircuit(err error) bool {
	return !stderrors.Is(err, context.Canceled)
}
