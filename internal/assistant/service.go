package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	ErrRateLimited  = errors.New("rate limited - retry later")
	ErrUpstream     = errors.New("assistant unavailable")
	ErrEmptyMessage = errors.New("message is required")
)

const defaultSystemPrompt = "You are the taskboard assistant. Help the user plan, prioritise and break down their tasks and projects."

// HistoryStore persists chat exchanges. RecentChat returns messages oldest first.
type HistoryStore interface {
	RecentChat(ctx context.Context, userID string, limit int) ([]Message, error)
	AppendChat(ctx context.Context, userID string, msgs []Message) error
}

type Reply struct {
	Answer string `json:"answer"`
	Usage  Usage  `json:"usage"`
}

type Service struct {
	limiter        *RateLimiter
	provider       Provider
	history        HistoryStore
	historyContext int
	systemPrompt   string
}

func NewService(limiter *RateLimiter, provider Provider, history HistoryStore, historyContext int) *Service {
	if historyContext < 0 {
		historyContext = 0
	}
	return &Service{
		limiter:        limiter,
		provider:       provider,
		history:        history,
		historyContext: historyContext,
		systemPrompt:   defaultSystemPrompt,
	}
}

// Chat spends one call from the user's budget and forwards the message with
// recent history to the provider.
func (s *Service) Chat(ctx context.Context, userID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if !s.limiter.Allow(userID) {
		return nil, ErrRateLimited
	}

	var history []Message
	if s.history != nil && s.historyContext > 0 {
		h, err := s.history.RecentChat(ctx, userID, s.historyContext)
		if err != nil {
			log.Printf("[assistant] load history for %s: %v", userID, err)
		} else {
			history = h
		}
	}

	resp, err := s.provider.Chat(ctx, ChatRequest{
		System:  s.systemPrompt,
		History: history,
		Message: message,
	})
	if err != nil {
		log.Printf("[assistant] provider call failed for %s: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if s.history != nil {
		turn := []Message{
			{Role: "user", Content: message},
			{Role: "assistant", Content: resp.Answer},
		}
		if err := s.history.AppendChat(ctx, userID, turn); err != nil {
			log.Printf("[assistant] save history for %s: %v", userID, err)
		}
	}

	return &Reply{Answer: resp.Answer, Usage: s.limiter.Usage(userID)}, nil
}

func (s *Service) Usage(userID string) Usage {
	return s.limiter.Usage(userID)
}

func (s *Service) RetryAfter(userID string) time.Duration {
	return s.limiter.RetryAfter(userID)
}

func (s *Service) Reset(userID string) {
	s.limiter.Reset(userID)
}

func (s *Service) ResetAll() {
	s.limiter.ResetAll()
}
