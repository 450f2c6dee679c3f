package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrConfig        = errors.New("invalid search request")
	ErrFetch         = errors.New("fetch failed")
	ErrRenderTimeout = errors.New("render timed out")
	ErrUnknownSource = errors.New("unknown source")
)

// ConfigError rejects a request before any source runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// FetchError covers network failures, timeouts and non-2xx statuses of a
// static fetch.
type FetchError struct {
	Source string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: http %d", e.Source, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// RenderTimeoutError reports a wait selector that never became visible.
type RenderTimeoutError struct {
	Source   string
	URL      string
	Selector string
	Timeout  time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("render %s %s: selector %q not visible after %s", e.Source, e.URL, e.Selector, e.Timeout)
}

func (e *RenderTimeoutError) Unwrap() error { return ErrRenderTimeout }

// UnknownSourceError names a requested source that has no adapter.
type UnknownSourceError struct {
	Name string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownSource, e.Name)
}

func (e *UnknownSourceError) Unwrap() error { return ErrUnknownSource }
