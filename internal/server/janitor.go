package server

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartJanitor schedules idle-room eviction. It returns nil when ttl
// disables eviction. The caller stops the returned scheduler.
func (s *Server) StartJanitor(schedule string, ttl time.Duration) (*cron.Cron, error) {
	if ttl <= 0 {
		s.logger.Info().Msg("room eviction disabled")
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if evicted := s.EvictIdle(time.Now(), ttl); len(evicted) > 0 {
			s.logger.Info().Strs("rooms", evicted).Msg("janitor sweep")
		}
	}); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	s.logger.Info().Str("schedule", schedule).Dur("ttl", ttl).Msg("room janitor started")
	return c, nil
}
