package arrowpg

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgtype"
)

// Option configures encoders and decoders.
type Option func(*config)

type config struct {
	typeMap  *pgtype.Map
	loadZone ZoneResolver
	logger   *slog.Logger
}

func newConfig(opts []Option) config {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.typeMap == nil {
		cfg.typeMap = NewTypeMap()
	}
	if cfg.loadZone == nil {
		cfg.loadZone = LoadZone
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// WithTypeMap sets the pgtype map used to encode fields and scan parameters.
// A pgtype.Map is not safe for concurrent use, so each encoder should get its own.
func WithTypeMap(m *pgtype.Map) Option {
	return func(c *config) {
		c.typeMap = m
	}
}

// WithZoneResolver replaces LoadZone as the resolver for time zone names
// attached to Arrow timestamp types.
func WithZoneResolver(r ZoneResolver) Option {
	return func(c *config) {
		c.loadZone = r
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
