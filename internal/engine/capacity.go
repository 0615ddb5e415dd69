// internal/engine/capacity.go
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/clock"
)

// CapacityProbe reports whether the host is too loaded to start another session.
type CapacityProbe interface {
	Overloaded(ctx context.Context) (bool, error)
}

type capacityState int

const (
	capacityNormal capacityState = iota
	capacityBackoff
	capacityStopped
)

func (s capacityState) String() string {
	switch s {
	case capacityNormal:
		return "normal"
	case capacityBackoff:
		return "backoff"
	default:
		return "stopped"
	}
}

// capacityGate holds dispatch while the host is overloaded. One backoff is
// allowed per overload; if it does not clear, dispatching stops for good.
type capacityGate struct {
	probe   CapacityProbe
	backoff time.Duration
	clock   clock.Clock
	logger  *zap.Logger
	state   capacityState
}

func newCapacityGate(probe CapacityProbe, backoff time.Duration, clk clock.Clock, logger *zap.Logger) *capacityGate {
	return &capacityGate{probe: probe, backoff: backoff, clock: clk, logger: logger}
}

// admit reports whether the next job may be dispatched. It only returns an
// error when ctx ends during the backoff.
func (g *capacityGate) admit(ctx context.Context) (bool, error) {
	if g.probe == nil {
		return true, nil
	}
	if g.state == capacityStopped {
		return false, nil
	}
	if !g.overloaded(ctx) {
		g.transition(capacityNormal)
		return true, nil
	}

	g.transition(capacityBackoff)
	if err := g.clock.Sleep(ctx, g.backoff); err != nil {
		return false, err
	}
	if !g.overloaded(ctx) {
		g.transition(capacityNormal)
		return true, nil
	}
	g.transition(capacityStopped)
	return false, nil
}

func (g *capacityGate) overloaded(ctx context.Context) bool {
	over, err := g.probe.Overloaded(ctx)
	if err != nil {
		g.logger.Warn("Capacity probe failed, assuming capacity is available.", zap.Error(err))
		return false
	}
	return over
}

func (g *capacityGate) transition(to capacityState) {
	if g.state == to {
		return
	}
	fields := []zap.Field{zap.Stringer("from", g.state), zap.Stringer("to", to)}
	switch to {
	case capacityBackoff:
		g.logger.Warn("Host overloaded, pausing dispatch.", append(fields, zap.Duration("backoff", g.backoff))...)
	case capacityStopped:
		g.logger.Error("Host still overloaded after backoff, no further jobs will start.", fields...)
	default:
		g.logger.Info("Capacity available again.", fields...)
	}
	g.state = to
}
