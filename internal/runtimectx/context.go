// Package runtimectx carries the process-wide collaborators every
// component needs at construction time: the logger and the validated
// configuration. It replaces the module-level singletons the daemon this
// project is modeled on used to keep, so that every package is built from
// an explicit handle instead of reaching for ambient state.
package runtimectx

import (
	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/config"
)

// Context is passed by value (it only carries pointers) into every
// constructor in the daemon: transports, the feature registry, scan loops,
// cover controllers, the MQTT plane.
type Context struct {
	Log    *zap.Logger
	Config *config.Config
}

// New builds a Context from a logger and a validated config.
func New(log *zap.Logger, cfg *config.Config) Context {
	return Context{Log: log, Config: cfg}
}

// Named returns a Context whose logger carries an additional name segment,
// e.g. ctx.Named("modbus.tcp") for a transport-specific logger.
func (c Context) Named(name string) Context {
	return Context{Log: c.Log.Named(name), Config: c.Config}
}

// With returns a Context whose logger carries the given structured fields.
func (c Context) With(fields ...zap.Field) Context {
	return Context{Log: c.Log.With(fields...), Config: c.Config}
}
