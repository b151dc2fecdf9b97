package guest

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultCallTimeout bounds every call unless WithCallTimeout says otherwise.
const DefaultCallTimeout = 5 * time.Second

type Option func(*Surface)

func WithScope(scope string) Option {
	return func(s *Surface) { s.scope = scope }
}

func WithCallTimeout(d time.Duration) Option {
	return func(s *Surface) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Surface) { s.logger = logger }
}
