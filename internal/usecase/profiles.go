package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"whatsapp-relay/internal/domain"
)

// ProfileRepository persists user profiles. UpsertProfile must be atomic per
// wa_id: it creates the record with a count of one or increments it.
type ProfileRepository interface {
	UpsertProfile(ctx context.Context, waID, name string, now time.Time) (domain.UserProfile, error)
	ListProfiles(ctx context.Context) ([]domain.UserProfile, error)
}

type ProfileService struct {
	repo   ProfileRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewProfileService(repo ProfileRepository, logger *slog.Logger) (*ProfileService, error) {
	if repo == nil {
		return nil, errors.New("usecase: profile repository must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{repo: repo, logger: logger, now: time.Now}, nil
}

// GetOrCreate records one message from waID and returns the updated profile.
// It never fails: on storage errors it logs and returns a record built from
// the inputs with MessageCount left at zero.
func (s *ProfileService) GetOrCreate(ctx context.Context, waID, name string) domain.UserProfile {
	p, err := s.repo.UpsertProfile(ctx, waID, name, s.now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "profile store unavailable, using transient profile",
			"wa_id", waID,
			"code", ErrorStorage,
			"err", err,
		)
		return domain.UserProfile{WaID: waID, Name: name}
	}
	if p.MessageCount == 1 {
		s.logger.InfoContext(ctx, "new user registered", "wa_id", waID, "name", name)
	}
	return p
}

// Stats lists every known user ordered by wa_id.
func (s *ProfileService) Stats(ctx context.Context) (domain.UserStats, error) {
	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return domain.UserStats{}, newError(ErrorStorage, "list_profiles_error", err)
	}
	users := make([]domain.UserSummary, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, domain.UserSummary{
			Name:         p.Name,
			WaID:         p.WaID,
			MessageCount: p.MessageCount,
			LastActivity: p.LastActivity,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].WaID < users[j].WaID })
	return domain.UserStats{TotalUsers: len(users), Users: users}, nil
}
