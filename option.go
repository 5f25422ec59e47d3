package basesession

import (
	"time"

	"github.com/glassgift/basesession/balances"
	"github.com/glassgift/basesession/logger"
	"github.com/glassgift/basesession/metrics"
)

type Option func(*Session)

func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithReadClient supplies the read-only fallback transport for balance
// fetches instead of dialing the configured RPC URL.
func WithReadClient(rc balances.ReadClient) Option {
	return func(s *Session) {
		s.readClient = rc
	}
}

// WithNow overrides the clock used for grant expiries, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}
