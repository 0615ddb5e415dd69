// internal/player/page.go
package player

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDurationUnavailable means the media element never reported a usable duration.
	ErrDurationUnavailable = errors.New("media duration unavailable")
	// ErrMediaElementMissing means the media element disappeared while watching.
	ErrMediaElementMissing = errors.New("media element missing")
	// ErrAdProbe wraps a failed ad inspection. It never fails a job.
	ErrAdProbe = errors.New("ad probe failed")
)

// Page is the subset of browser capabilities the player logic needs.
type Page interface {
	Evaluate(ctx context.Context, script string, out any) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Visible(ctx context.Context, selector string) (bool, error)
	MoveMouse(ctx context.Context, x, y float64) error
}
