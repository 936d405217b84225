package users

import (
	"context"
	"log/slog"

	"github.com/Keksclan/rawrcache/internal/logx"
	"github.com/Keksclan/rawrcache/kv"
	"github.com/Keksclan/rawrcache/recency"
)

// TouchActivity moves the user to the front of the recent-activity list.
func (s *Service) TouchActivity(ctx context.Context, telegramID int64) kv.Outcome {
	return s.active.Touch(ctx, telegramID)
}

// RecentRegistered returns the latest registered users, newest first.
func (s *Service) RecentRegistered(ctx context.Context) ([]User, error) {
	return s.recent(ctx, s.registered)
}

// RecentActive returns the users seen most recently, newest first.
func (s *Service) RecentActive(ctx context.Context) ([]User, error) {
	return s.recent(ctx, s.active)
}

// recent resolves list ids through Get. Ids whose user no longer exists are
// dropped from the result and from the list.
func (s *Service) recent(ctx context.Context, list *recency.List) ([]User, error) {
	ids, _ := list.Read(ctx)
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		u, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			s.metrics.Dangling(list.Key())
			logx.With(ctx, s.log).WarnContext(ctx, "user missing, removing from recency list",
				slog.Int64("telegram_id", id), slog.String("list", list.Key()))
			list.Remove(ctx, id)
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}
