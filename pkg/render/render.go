// Package render defines the headless rendering capability used for
// script-heavy job boards, with explicit acquire/release of sessions.
package render

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the wait selector does not become visible
// within Options.Timeout.
var ErrTimeout = errors.New("render timed out")

// ErrNavigationTimeout is returned when the page itself does not load in
// time.
var ErrNavigationTimeout = errors.New("navigation timed out")

// Options controls one Render call.
type Options struct {
	// WaitSelector must become visible before the page is captured.
	WaitSelector string
	// Timeout bounds navigation and the selector wait together.
	Timeout time.Duration
	// Dismiss lists overlays (login modals, cookie banners) to click away
	// if present. Missing overlays are not an error.
	Dismiss []string
	Headers map[string]string
}

// Session is one isolated page. Callers must Release it on every path.
type Session interface {
	Render(ctx context.Context, url string, opts Options) (string, error)
	Release() error
}

// Engine hands out sessions, blocking while all are in use.
type Engine interface {
	Acquire(ctx context.Context) (Session, error)
}

// Do acquires a session, renders url and releases the session.
func Do(ctx context.Context, e Engine, url string, opts Options) (html string, err error) {
	s, err := e.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return s.Render(ctx, url, opts)
}
