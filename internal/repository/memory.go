package repository

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"whatsapp-relay/internal/domain"
)

// MemoryStore is a process-local store for tests and throwaway runs.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
	threads  map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: map[string]domain.UserProfile{},
		threads:  map[string]string{},
	}
}

func (s *MemoryStore) UpsertProfile(_ context.Context, waID, name string, now time.Time) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[waID]
	if !ok {
		p = domain.UserProfile{
			WaID:         waID,
			CreatedAt:    now,
			LastActivity: now,
			Preferences:  map[string]string{},
			BusinessInfo: map[string]string{},
		}
	}
	p.Name = name
	p.MessageCount++
	if now.After(p.LastActivity) {
		p.LastActivity = now
	}
	s.profiles[waID] = p
	return cloneProfile(p), nil
}

func (s *MemoryStore) ListProfiles(_ context.Context) ([]domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, cloneProfile(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WaID < out[j].WaID })
	return out, nil
}

func (s *MemoryStore) FindThread(_ context.Context, waID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.threads[waID]
	return id, ok, nil
}

func (s *MemoryStore) StoreThread(_ context.Context, waID, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("repository: StoreThread: thread id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[waID]; ok {
		return domain.ErrThreadExists
	}
	s.threads[waID] = threadID
	return nil
}

func cloneProfile(p domain.UserProfile) domain.UserProfile {
	p.Preferences = maps.Clone(p.Preferences)
	p.BusinessInfo = maps.Clone(p.BusinessInfo)
	return p
}
