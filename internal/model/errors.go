package model

import (
	"errors"
	"fmt"
)

// Kind classifies errors crossing a component boundary.
type Kind string

const (
	KindMalformedInput      Kind = "malformed_input"
	KindUnknownIndicator    Kind = "unknown_indicator"
	KindUnknownTimeframe    Kind = "unknown_timeframe"
	KindInsufficientData    Kind = "insufficient_data"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindBackpressureDrop    Kind = "backpressure_drop"
	KindInternal            Kind = "internal"
)

// Error is a classified error. Sentinels below carry no detail and match any
// Error of the same kind through errors.Is.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

var (
	ErrMalformedInput      = &Error{Kind: KindMalformedInput}
	ErrUnknownIndicator    = &Error{Kind: KindUnknownIndicator}
	ErrUnknownTimeframe    = &Error{Kind: KindUnknownTimeframe}
	ErrInsufficientData    = &Error{Kind: KindInsufficientData}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrBackpressureDrop    = &Error{Kind: KindBackpressureDrop}
)

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it reachable through errors.Unwrap.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels (no detail, no cause) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Detail == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf returns the classification of err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the human-readable part of a classified error.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil && e.Detail != "" {
			return e.Detail + ": " + e.Err.Error()
		}
		if e.Detail != "" {
			return e.Detail
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
