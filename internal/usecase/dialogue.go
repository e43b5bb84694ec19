package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"npc-dialogue-agent/internal/domain"
	"npc-dialogue-agent/internal/normalize"
)

const (
	defaultMaxHistory    = 20
	defaultMaxPlayerLine = 200
	defaultGreetingLen   = 250
	defaultReplyLen      = 300
	defaultOptionLen     = 150
	maxSessionTurns      = 30
	statusComplete       = "complete"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// LLMClient produces raw chat-completion payloads. The dialogue service hands
// the body to the normalizer rather than interpreting it here, so upstream
// garbage degrades to fallback dialogue.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) ([]byte, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type StateReadWriter interface {
	GetSessionTurnCount(ctx context.Context, sessionID string) (int, error)
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, sessionID, npcID, playerLine, npcLine string, turns int) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Limits holds the per-request-kind length caps. The caps are independent
// knobs with no derived rule.
type Limits struct {
	Greeting   int
	Reply      int
	Option     int
	PlayerLine int
}

func (l Limits) withDefaults() Limits {
	if l.Greeting <= 0 {
		l.Greeting = defaultGreetingLen
	}
	if l.Reply <= 0 {
		l.Reply = defaultReplyLen
	}
	if l.Option <= 0 {
		l.Option = defaultOptionLen
	}
	if l.PlayerLine <= 0 {
		l.PlayerLine = defaultMaxPlayerLine
	}
	return l
}

type DialogueService struct {
	params          ParamGetter
	llm             LLMClient
	state           StateReadWriter
	paramPrefix     string
	maxHistoryTurns int
	limits          Limits

	cacheMu     sync.RWMutex
	model       string
	modelLoaded bool
	personas    map[string]string
}

type GreetInput struct {
	NPCID     string
	SessionID string
}

type GreetOutput struct {
	Utterance string
	SessionID string
}

type ReplyInput struct {
	NPCID      string
	SessionID  string
	PlayerLine string
}

type ReplyOutput struct {
	Utterance string
	SessionID string
}

type OptionsInput struct {
	NPCID     string
	SessionID string
}

type OptionsOutput struct {
	Options   []string
	SessionID string
}

func NewDialogueService(p ParamGetter, llm LLMClient, s StateReadWriter, paramPrefix string, maxHistoryTurns int, limits Limits) (*DialogueService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistory
	}
	return &DialogueService{
		params:          p,
		llm:             llm,
		state:           s,
		paramPrefix:     paramPrefix,
		maxHistoryTurns: maxHistoryTurns,
		limits:          limits.withDefaults(),
		personas:        make(map[string]string),
	}, nil
}

// Greet produces the NPC's opening line for a session and persists it so
// later turns replay it as context.
func (s *DialogueService) Greet(ctx context.Context, in GreetInput) (GreetOutput, error) {
	npcID, err := validNPCID(in.NPCID)
	if err != nil {
		return GreetOutput{}, err
	}
	persona, model, err := s.resolveNPC(ctx, npcID)
	if err != nil {
		return GreetOutput{}, err
	}

	sessionID, existingTurns, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return GreetOutput{}, err
	}

	line, err := s.generateLine(ctx, model, buildGreetingMessages(persona, s.limits.Greeting), s.limits.Greeting)
	if err != nil {
		return GreetOutput{}, err
	}

	s.saveTurn(ctx, sessionID, npcID, "", line, existingTurns+1)

	return GreetOutput{Utterance: line, SessionID: sessionID}, nil
}

// Reply produces the NPC's response to the player's line.
func (s *DialogueService) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	npcID, err := validNPCID(in.NPCID)
	if err != nil {
		return ReplyOutput{}, err
	}
	playerLine := strings.TrimSpace(in.PlayerLine)
	if playerLine == "" {
		return ReplyOutput{}, newError(ErrorInvalidInput, "empty_player_line", nil)
	}
	if len(playerLine) > s.limits.PlayerLine {
		return ReplyOutput{}, newError(ErrorInvalidInput, "player_line_too_long", nil)
	}

	persona, model, err := s.resolveNPC(ctx, npcID)
	if err != nil {
		return ReplyOutput{}, err
	}

	sessionID, existingTurns, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return ReplyOutput{}, err
	}
	if existingTurns >= maxSessionTurns {
		return ReplyOutput{}, newError(ErrorInvalidInput, "session_turn_limit", nil)
	}

	flagged, err := s.llm.Moderate(ctx, playerLine)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return ReplyOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return ReplyOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		return ReplyOutput{}, newError(ErrorRejectedLine, "moderation_flagged", nil)
	}

	history := s.loadHistory(ctx, sessionID)

	line, err := s.generateLine(ctx, model, buildReplyMessages(persona, history, playerLine, s.limits.Reply), s.limits.Reply)
	if err != nil {
		return ReplyOutput{}, err
	}

	s.saveTurn(ctx, sessionID, npcID, playerLine, line, existingTurns+1)

	return ReplyOutput{Utterance: line, SessionID: sessionID}, nil
}

// Options produces the fixed-size set of player response choices for the
// current conversation state. Options are candidates, not turns, so nothing
// is persisted.
func (s *DialogueService) Options(ctx context.Context, in OptionsInput) (OptionsOutput, error) {
	npcID, err := validNPCID(in.NPCID)
	if err != nil {
		return OptionsOutput{}, err
	}
	persona, model, err := s.resolveNPC(ctx, npcID)
	if err != nil {
		return OptionsOutput{}, err
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}
	history := s.loadHistory(ctx, sessionID)

	raw, err := s.llm.Chat(ctx, model, buildOptionsMessages(persona, history, s.limits.Option))
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return OptionsOutput{}, newError(ErrorRateLimited, "chat_rate_limited", err)
		}
		slog.Warn("options request failed, using fallback set", "err", err)
		return OptionsOutput{Options: normalize.Options("", s.limits.Option), SessionID: sessionID}, nil
	}

	content, ok := normalize.ExtractContent(raw)
	if !ok {
		slog.Warn("options payload had no content, using fallback set")
	}
	return OptionsOutput{Options: normalize.Options(content, s.limits.Option), SessionID: sessionID}, nil
}

// generateLine runs one chat exchange and normalizes the result. Upstream
// failures other than rate limiting resolve to the fallback utterance.
func (s *DialogueService) generateLine(ctx context.Context, model string, messages []domain.ChatMessage, maxLen int) (string, error) {
	raw, err := s.llm.Chat(ctx, model, messages)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return "", newError(ErrorRateLimited, "chat_rate_limited", err)
		}
		slog.Warn("chat request failed, using fallback utterance", "err", err)
		return normalize.FallbackUtterance, nil
	}

	content, ok := normalize.ExtractContent(raw)
	if !ok {
		slog.Warn("chat payload had no content, using fallback utterance")
	}
	return normalize.Utterance(content, maxLen), nil
}

// resolveSession trims or generates the session ID and reads the persisted
// turn count for pre-existing sessions.
func (s *DialogueService) resolveSession(ctx context.Context, sessionID string) (string, int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newUUID(), 0, nil
	}
	turns, err := s.state.GetSessionTurnCount(ctx, sessionID)
	if err != nil {
		return "", 0, newError(ErrorInternal, "dynamodb_turn_count_error", err)
	}
	return sessionID, turns, nil
}

// loadHistory reads the completed turns for prompt context. A read failure
// degrades to an empty history rather than failing the exchange.
func (s *DialogueService) loadHistory(ctx context.Context, sessionID string) []domain.Turn {
	history, err := s.state.GetHistory(ctx, sessionID, s.maxHistoryTurns)
	if err != nil {
		slog.Warn("history read failed, continuing without context", "err", err)
		return nil
	}
	return history
}

// saveTurn persists the completed exchange. The utterance was already
// produced, so a write failure is logged and the turn is still returned to
// the player.
func (s *DialogueService) saveTurn(ctx context.Context, sessionID, npcID, playerLine, npcLine string, turns int) {
	if err := s.state.SaveCompletedTurn(ctx, sessionID, npcID, playerLine, npcLine, turns); err != nil {
		slog.Warn("turn save failed", "sessionId", sessionID, "err", err)
	}
}

// resolveNPC returns the persona for the NPC and the configured model,
// loading and caching both from the parameter store.
func (s *DialogueService) resolveNPC(ctx context.Context, npcID string) (persona, model string, err error) {
	model, err = s.ensureModel(ctx)
	if err != nil {
		return "", "", newError(ErrorInternal, "ssm_load_error", err)
	}
	persona, err = s.personaFor(ctx, npcID)
	if err != nil {
		return "", "", newError(ErrorInternal, "persona_load_error", err)
	}
	return persona, model, nil
}

func (s *DialogueService) ensureModel(ctx context.Context) (string, error) {
	s.cacheMu.RLock()
	if s.modelLoaded {
		model := s.model
		s.cacheMu.RUnlock()
		return model, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.modelLoaded {
		return s.model, nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/model")
	if err != nil {
		return "", err
	}
	s.model = model
	s.modelLoaded = true
	return model, nil
}

func (s *DialogueService) personaFor(ctx context.Context, npcID string) (string, error) {
	s.cacheMu.RLock()
	persona, ok := s.personas[npcID]
	s.cacheMu.RUnlock()
	if ok {
		return persona, nil
	}

	persona, err := s.params.GetParameter(ctx, s.paramPrefix+"/personas/"+npcID)
	if err != nil {
		return "", err
	}

	s.cacheMu.Lock()
	s.personas[npcID] = persona
	s.cacheMu.Unlock()
	return persona, nil
}

func validNPCID(npcID string) (string, error) {
	npcID = strings.TrimSpace(npcID)
	if npcID == "" {
		return "", newError(ErrorInvalidInput, "missing_npc_id", nil)
	}
	return npcID, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
