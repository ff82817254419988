package application

import "time"

// Clock overrides for tests.

func (s *TokenService) SetClock(now func() time.Time) { s.now = now }

func (s *SyncScheduler) SetClock(now func() time.Time) { s.now = now }

func (s *QueueService) SetClock(now func() time.Time) { s.now = now }
