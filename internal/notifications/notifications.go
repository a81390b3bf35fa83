// Package notifications serves the in-app notification feed. Reads are
// cached briefly; every write evicts the owner's feed and dashboard.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/taskboard/taskboard-backend/internal/cache"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	TaskID    *string   `json:"task_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Feed struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
}

type Repository interface {
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

const DefaultLimit = 50

type Service struct {
	repo  Repository
	cache *cache.Cache
}

func NewService(repo Repository, c *cache.Cache) *Service {
	return &Service{repo: repo, cache: c}
}

func (s *Service) List(ctx context.Context, userID string) (*Feed, error) {
	opts := cache.Options{TTL: cache.TTLRealtime, Tags: []string{cache.NotificationsTag(userID)}}
	return cache.GetOrCompute(s.cache, cache.Key("notifications", userID), opts, func() (*Feed, error) {
		items, err := s.repo.List(ctx, userID, DefaultLimit)
		if err != nil {
			return nil, err
		}
		unread, err := s.repo.CountUnread(ctx, userID)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Notification{}
		}
		return &Feed{Items: items, Unread: unread}, nil
	})
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.repo.MarkRead(ctx, userID, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ctx, userID)
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	s.cache.Invalidate(ctx, cache.NotificationsTag(userID), cache.DashboardTag(userID))
}
