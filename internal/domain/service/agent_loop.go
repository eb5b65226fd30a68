package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/session"
	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// Part is one multimodal attachment on the initial user message. Data is
// base64-encoded inline content.
type Part struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// QueryOptions carries per-call generation hints.
type QueryOptions struct {
	EnableThinking bool
}

// LLM is the port the loop drives. Implementations live in the
// infrastructure layer.
type LLM interface {
	Query(ctx context.Context, prompt string, opts QueryOptions, parts []Part) (string, error)
}

// LoopConfig tunes one AgentLoop instance.
type LoopConfig struct {
	SystemPrompt        string
	MaxIterations       int
	EnableReasoning     bool
	EnableConversations bool
	MaxRetries          int
}

// AgentLoop drives the model-turn / tool-execution cycle until the model
// produces a final answer or the turn budget runs out.
type AgentLoop struct {
	llm      LLM
	registry *domaintool.Registry
	executor *Executor
	sessions *session.Store
	cfg      LoopConfig
	logger   *zap.Logger
	metrics  Metrics
}

// NewAgentLoop wires a loop over its collaborators.
func NewAgentLoop(llm LLM, registry *domaintool.Registry, executor *Executor, sessions *session.Store, cfg LoopConfig, logger *zap.Logger) *AgentLoop {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 5
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &AgentLoop{
		llm:      llm,
		registry: registry,
		executor: executor,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		metrics:  nopMetrics{},
	}
}

// SetMetrics attaches a metrics sink. Safe to leave unset.
func (l *AgentLoop) SetMetrics(m Metrics) {
	if m != nil {
		l.metrics = m
	}
}

// Run executes one request to completion. Parts are honored only on the
// first model turn. SessionID is honored only when conversations are
// enabled; an unknown id simply runs without history.
func (l *AgentLoop) Run(ctx context.Context, userMessage, sessionID string, parts []Part) (string, error) {
	runID := NewRunID()
	ctx = WithTraceID(ctx, runID)
	logger := l.logger.With(zap.String("run_id", runID))

	sm := NewRunStateMachine(l.cfg.MaxIterations, logger)
	rc := &domaintool.RunContext{
		RunID:     runID,
		SessionID: sessionID,
		Logger:    logger,
	}

	useSession := l.cfg.EnableConversations && sessionID != "" && l.sessions != nil
	var history []session.Message
	if useSession {
		history = l.sessions.History(sessionID)
		l.sessions.Append(sessionID, session.Message{Role: "user", Content: userMessage})
	}

	manifest := l.registry.ManifestText(l.cfg.SystemPrompt)
	var accumulated []string
	lastAssistant := ""

	for turn := 1; turn <= l.cfg.MaxIterations; turn++ {
		if err := ctx.Err(); err != nil {
			_ = sm.Transition(StateAborted)
			return "", apperrors.NewTransportError("request cancelled", err)
		}

		sm.SetTurn(turn)
		prompt := l.buildPrompt(manifest, history, userMessage, accumulated)

		turnParts := parts
		if turn > 1 {
			turnParts = nil
		}
		logger.Info("Model turn",
			zap.Int("turn", turn),
			zap.Int("prompt_len", len(prompt)),
			zap.Int("parts", len(turnParts)),
		)

		l.metrics.IncModelCall()
		text, err := l.llm.Query(ctx, prompt, QueryOptions{EnableThinking: l.cfg.EnableReasoning}, turnParts)
		if err != nil {
			sm.RecordError()
			_ = sm.Transition(StateError)
			return "", err
		}

		_ = sm.Transition(StateParsing)
		parsed, err := ParseResponse(text)
		if err != nil {
			// Malformed tool-call syntax ends the run with an
			// explanation rather than retrying the same turn.
			sm.RecordError()
			_ = sm.Transition(StateError)
			logger.Warn("Model produced malformed tool calls", zap.Error(err))
			return fmt.Sprintf("The model produced a malformed tool call and the request cannot continue: %v", err), nil
		}

		if !parsed.HasCalls() {
			if useSession {
				l.sessions.Append(sessionID, session.Message{Role: "assistant", Content: text})
			}
			_ = sm.Transition(StateDone)
			logger.Info("Run complete", zap.Int("turns", turn))
			return text, nil
		}
		if parsed.FinalText != "" {
			lastAssistant = parsed.FinalText
		}

		_ = sm.Transition(StateExecuting)
		results, err := l.executor.ExecuteAll(ctx, parsed.Calls, rc, l.cfg.MaxRetries)
		if err != nil {
			sm.RecordError()
			if !apperrors.IsSecurity(err) && ctx.Err() != nil {
				_ = sm.Transition(StateAborted)
				return "", apperrors.NewTransportError("request cancelled", err)
			}
			// Security violations surface to the caller unchanged.
			_ = sm.Transition(StateError)
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Results from in-flight calls are discarded on cancellation.
			_ = sm.Transition(StateAborted)
			return "", apperrors.NewTransportError("request cancelled", ctxErr)
		}

		for i, result := range results {
			name := parsed.Calls[i].ToolName
			sm.RecordToolExec(name)
			if result.Success {
				accumulated = append(accumulated, fmt.Sprintf("TOOL_RESULT[%s]:\n%s", name, result.Content))
			} else {
				accumulated = append(accumulated, fmt.Sprintf("TOOL_ERROR[%s]:\n%s", name, result.Content))
			}
		}

		if turn == l.cfg.MaxIterations {
			_ = sm.Transition(StateDone)
			logger.Warn("Turn budget exhausted", zap.Int("max_iterations", l.cfg.MaxIterations))
			answer := fmt.Sprintf("Reached the maximum of %d reasoning steps without a final answer.", l.cfg.MaxIterations)
			if lastAssistant != "" {
				answer += "\nLast response: " + lastAssistant
			}
			if useSession {
				l.sessions.Append(sessionID, session.Message{Role: "assistant", Content: answer})
			}
			return answer, nil
		}
		_ = sm.Transition(StatePlanning)
	}

	// Unreachable: the budget check above always terminates the loop.
	return lastAssistant, nil
}

// buildPrompt assembles manifest, history, the user message, and tool
// outputs from earlier turns into one prompt.
func (l *AgentLoop) buildPrompt(manifest string, history []session.Message, userMessage string, accumulated []string) string {
	var b strings.Builder
	b.WriteString(manifest)
	b.WriteString("\n\n")

	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if len(history) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("User: ")
	b.WriteString(userMessage)

	for _, out := range accumulated {
		b.WriteString("\n\n")
		b.WriteString(out)
	}
	return b.String()
}
