// internal/browser/session/page.go
package session

import (
	"context"
	"time"
)

// Page is the browser capability the watch logic drives.
type Page interface {
	// Navigate loads url and waits for the document. The caller bounds it with ctx.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script, awaiting a returned promise, and decodes the
	// result into out. out may be nil.
	Evaluate(ctx context.Context, script string, out any) error
	// Click waits up to timeout for selector to be visible, then clicks it.
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// Visible reports whether selector matches a rendered, visible element.
	Visible(ctx context.Context, selector string) (bool, error)
	// MoveMouse dispatches a synthetic pointer move to viewport coordinates.
	MoveMouse(ctx context.Context, x, y float64) error
	AddScriptOnNewDocument(ctx context.Context, source string) error
}

// Session is one isolated browser and its page, used for exactly one job.
type Session interface {
	Page
	Viewport() Viewport
	// Close releases the browser. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Launcher opens sessions according to a directive.
type Launcher interface {
	Launch(ctx context.Context, d Directive) (Session, error)
}
