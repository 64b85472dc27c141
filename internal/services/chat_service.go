package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"persona-kb/internal/middleware"
	"persona-kb/internal/models"
	"persona-kb/internal/openai"

	"go.opentelemetry.io/otel/attribute"
)

// historyWindow is how many prior messages are sent with each reply.
const historyWindow = 10

// ErrResponderUnavailable is returned when no chat model is configured.
var ErrResponderUnavailable = errors.New("chat responder is not configured")

// ChatRequest is one turn of a persona conversation.
type ChatRequest struct {
	PersonaID    string               `json:"-"`
	SystemPrompt string               `json:"system_prompt"`
	History      []openai.ChatMessage `json:"history"`
	Message      string               `json:"message"`
	TopK         int                  `json:"top_k"`
}

// ChatReply is the persona's answer and the passages it was grounded on.
type ChatReply struct {
	Answer  string                   `json:"answer"`
	Sources []models.RetrievalResult `json:"sources"`
}

// ChatService splices retrieved knowledge into the persona prompt before
// calling the responder. Retrieval is best-effort and never blocks a reply.
type ChatService struct {
	retriever *Retriever
	responder Responder
}

// NewChatService creates the chat workflow. responder may be nil when no
// chat model is configured; Reply then fails with ErrResponderUnavailable.
func NewChatService(retriever *Retriever, responder Responder) *ChatService {
	return &ChatService{
		retriever: retriever,
		responder: responder,
	}
}

// Reply answers req.Message in the persona's voice.
func (s *ChatService) Reply(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
	ctx, span := middleware.StartSpan(ctx, "ChatService.Reply",
		attribute.String("persona.id", req.PersonaID),
		attribute.Int("history.length", len(req.History)),
	)
	defer span.End()

	if s.responder == nil {
		return nil, ErrResponderUnavailable
	}

	results, err := s.retriever.Retrieve(ctx, req.PersonaID, req.Message, req.TopK)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	system := strings.TrimSpace(req.SystemPrompt)
	if knowledge := BuildContext(results); knowledge != "" {
		system = strings.TrimSpace(system + "\n\n" + knowledge)
	}

	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	messages := make([]openai.ChatMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, openai.ChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, openai.ChatMessage{Role: "user", Content: req.Message})

	answer, err := s.responder.ChatCompletion(ctx, messages)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}

	middleware.AddSpanEvent(ctx, "reply_completed",
		attribute.Int("context_chunks", len(results)),
		attribute.Int("answer_length", len(answer)),
	)

	return &ChatReply{Answer: answer, Sources: results}, nil
}
