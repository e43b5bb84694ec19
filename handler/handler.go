package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"npc-dialogue-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// dialogueUseCase is the service surface consumed by the handler.
type dialogueUseCase interface {
	Greet(ctx context.Context, in usecase.GreetInput) (usecase.GreetOutput, error)
	Reply(ctx context.Context, in usecase.ReplyInput) (usecase.ReplyOutput, error)
	Options(ctx context.Context, in usecase.OptionsInput) (usecase.OptionsOutput, error)
}

type dialogueRequest struct {
	NPCID      string `json:"npcId"`
	SessionID  string `json:"sessionId,omitempty"`
	PlayerLine string `json:"playerLine,omitempty"`
}

type utteranceResponse struct {
	Utterance string `json:"utterance"`
	SessionID string `json:"sessionId"`
}

type optionsResponse struct {
	Options   []string `json:"options"`
	SessionID string   `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler adapts API Gateway proxy events to the dialogue service.
type Handler struct {
	uc dialogueUseCase
}

func NewHandler(uc dialogueUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)

	if event.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"}, corrID), nil
	}

	var req dialogueRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return respond(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}, corrID), nil
	}

	switch event.Path {
	case "/dialogue/greet":
		out, err := h.uc.Greet(ctx, usecase.GreetInput{NPCID: req.NPCID, SessionID: req.SessionID})
		if err != nil {
			return errorToResponse(err, corrID), nil
		}
		return respond(http.StatusOK, utteranceResponse{Utterance: out.Utterance, SessionID: out.SessionID}, corrID), nil
	case "/dialogue/reply":
		out, err := h.uc.Reply(ctx, usecase.ReplyInput{NPCID: req.NPCID, SessionID: req.SessionID, PlayerLine: req.PlayerLine})
		if err != nil {
			return errorToResponse(err, corrID), nil
		}
		return respond(http.StatusOK, utteranceResponse{Utterance: out.Utterance, SessionID: out.SessionID}, corrID), nil
	case "/dialogue/options":
		out, err := h.uc.Options(ctx, usecase.OptionsInput{NPCID: req.NPCID, SessionID: req.SessionID})
		if err != nil {
			return errorToResponse(err, corrID), nil
		}
		return respond(http.StatusOK, optionsResponse{Options: out.Options, SessionID: out.SessionID}, corrID), nil
	default:
		return respond(http.StatusNotFound, errorResponse{Error: "not_found"}, corrID), nil
	}
}

func errorToResponse(err error, corrID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return respond(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}, corrID)
	}
	return respond(statusFor(ucErr.Code), errorResponse{Error: string(ucErr.Code)}, corrID)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorRejectedLine:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

// correlationID returns the caller-provided correlation ID, matched
// case-insensitively, or generates a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == correlationHeader && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
