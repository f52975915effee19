package session

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Describe summarises sessions as seen at now, in the given order.
func Describe(sessions []*models.Session, now time.Time) []models.SessionInfo {
	out := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info(now))
	}
	return out
}

// ClearAll deletes every in-memory session and every live stored one.
// It returns how many users were cleared.
func (s *MemoryStore) ClearAll() (int, error) {
	sessions, err := s.List()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	users := make(map[string]bool, len(s.entries)+len(sessions))
	for userID := range s.entries {
		users[userID] = true
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		users[sess.UserID] = true
	}

	for userID := range users {
		if err := s.Delete(userID); err != nil {
			return 0, fmt.Errorf("clear %s: %w", userID, err)
		}
	}
	return len(users), nil
}
