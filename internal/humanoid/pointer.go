// internal/humanoid/pointer.go
package humanoid

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/xkilldash9x/streamwatch/internal/clock"
)

// Mover dispatches a synthetic pointer move at viewport coordinates.
type Mover interface {
	MoveMouse(ctx context.Context, x, y float64) error
}

// Pointer simulates idle pointer activity: short curved drifts across the
// page that never press a button.
type Pointer struct {
	clock clock.Clock

	mu  sync.Mutex
	rnd *rand.Rand
	pos Vector2D
	// positioned is false until the first wander picks a start point.
	positioned bool
}

// NewPointer builds a Pointer. A nil rnd gets a randomly seeded source.
func NewPointer(clk clock.Clock, rnd *rand.Rand) *Pointer {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Pointer{clock: clk, rnd: rnd}
}

// Position returns the last pointer position sent.
func (p *Pointer) Position() Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Wander drifts the pointer from its last position to a random point inside
// a width x height viewport along an eased Bezier path.
func (p *Pointer) Wander(ctx context.Context, m Mover, width, height float64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %.0fx%.0f", width, height)
	}

	margin := math.Min(width, height) * 0.1
	p.mu.Lock()
	if !p.positioned {
		p.pos = p.randomPoint(margin, width, height)
		p.positioned = true
	}
	start := p.pos
	end := p.randomPoint(margin, width, height)
	bend := (p.rnd.Float64()*2 - 1) * 0.3
	steps := 12 + p.rnd.IntN(9)
	delays := make([]time.Duration, steps)
	for i := range delays {
		delays[i] = time.Duration(15+p.rnd.IntN(21)) * time.Millisecond
	}
	p.mu.Unlock()

	path := curvedPath(start, end, bend, steps)
	for i := range path {
		// Ease along the path so the pointer accelerates and settles.
		t := float64(i) / float64(len(path)-1)
		idx := int(math.Round(easeInOutCubic(t) * float64(len(path)-1)))
		pt := path[idx].Clamp(0, 0, width-1, height-1)

		if err := m.MoveMouse(ctx, pt.X, pt.Y); err != nil {
			return fmt.Errorf("pointer move failed: %w", err)
		}
		p.mu.Lock()
		p.pos = pt
		p.mu.Unlock()

		if err := p.clock.Sleep(ctx, delays[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pointer) randomPoint(margin, width, height float64) Vector2D {
	return Vector2D{
		X: margin + p.rnd.Float64()*(width-2*margin),
		Y: margin + p.rnd.Float64()*(height-2*margin),
	}
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// curvedPath samples a cubic Bezier from start to end whose control points are
// pushed sideways by bend times the distance.
func curvedPath(start, end Vector2D, bend float64, steps int) []Vector2D {
	if steps < 2 {
		return []Vector2D{end}
	}
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	offset := mainVec.Normalize().Perp().Mul(bend * dist)

	p0, p3 := start, end
	p1 := start.Add(mainVec.Mul(1.0 / 3.0)).Add(offset)
	p2 := start.Add(mainVec.Mul(2.0 / 3.0)).Add(offset.Mul(0.5))

	path := make([]Vector2D, steps)
	for i := range path {
		t := float64(i) / float64(steps-1)
		omt := 1.0 - t
		path[i] = p0.Mul(omt * omt * omt).
			Add(p1.Mul(3 * omt * omt * t)).
			Add(p2.Mul(3 * omt * t * t)).
			Add(p3.Mul(t * t * t))
	}
	return path
}
