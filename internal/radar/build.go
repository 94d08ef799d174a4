package radar

import (
	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/permission"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/telemetry"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

// Components are the pieces shared by every session's orchestrator.
type Components struct {
	Config   Config
	Matcher  proximity.Matcher
	Store    LocationWriter
	Identity IdentityProvider
	Metrics  *telemetry.RadarMetrics
	Logger   logger.Logger
}

// Build wires an orchestrator for one session around the device platform.
func (c Components) Build(sessionID string, platform location.Platform) (*Orchestrator, error) {
	log := c.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("session_id", sessionID)

	precision := c.Config.Precision
	if precision <= 0 {
		precision = DefaultConfig().Precision
	}
	provider := location.NewProvider(platform, log, location.WithPrecision(precision))

	return New(c.Config, Deps{
		Locator:    provider,
		Permission: permission.NewMachine(provider, provider, c.Config.AcquireTimeout, c.Config.MaxAge, log),
		Matcher:    c.Matcher,
		Store:      c.Store,
		Identity:   c.Identity,
		Metrics:    c.Metrics,
		Logger:     log,
	}), nil
}
