package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrBusClosed is returned when publishing to an inbound queue that has
// already been closed during shutdown.
var ErrBusClosed = errors.New("message bus closed")

// ChannelErrorKind classifies adapter failures.
type ChannelErrorKind int

const (
	// ChannelTransient covers connection drops, send timeouts, and upstream
	// rate limits. Worth retrying or reconnecting.
	ChannelTransient ChannelErrorKind = iota
	// ChannelPermanent covers bad credentials, invalid chat IDs, and
	// malformed configuration. Retrying cannot help.
	ChannelPermanent
)

// ChannelError wraps a transport failure with its classification.
type ChannelError struct {
	Kind    ChannelErrorKind
	Channel ChannelKind
	Err     error
}

func (e *ChannelError) Error() string {
	kind := "permanent"
	if e.Kind == ChannelTransient {
		kind = "transient"
	}
	return fmt.Sprintf("%s channel %s error: %v", e.Channel, kind, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Transient reports whether the failure may resolve on its own.
func (e *ChannelError) Transient() bool { return e.Kind == ChannelTransient }

// NewChannelError wraps err for the given channel.
func NewChannelError(kind ChannelErrorKind, channel ChannelKind, err error) *ChannelError {
	return &ChannelError{Kind: kind, Channel: channel, Err: err}
}

// AsChannelError unwraps err into a *ChannelError if one is in the chain.
func AsChannelError(err error) (*ChannelError, bool) {
	var ce *ChannelError
	ok := errors.As(err, &ce)
	return ce, ok
}

// AgentErrorKind classifies completion failures. The kind decides whether
// the router spends retry budget on the request.
type AgentErrorKind int

const (
	// AgentAuth: rejected credentials (401/403). Never retried.
	AgentAuth AgentErrorKind = iota
	// AgentRateLimited: upstream 429. Retried, honoring RetryAfter when set.
	AgentRateLimited
	// AgentProvider: upstream 5xx or provider-reported failure. Retried.
	AgentProvider
	// AgentNetwork: connection failures before a response arrived. Retried.
	AgentNetwork
	// AgentInvalidResponse: a response arrived but could not be used
	// (unparseable body, empty completion). Never retried.
	AgentInvalidResponse
)

func (k AgentErrorKind) String() string {
	switch k {
	case AgentAuth:
		return "auth"
	case AgentRateLimited:
		return "rate_limited"
	case AgentProvider:
		return "provider"
	case AgentNetwork:
		return "network"
	case AgentInvalidResponse:
		return "invalid_response"
	}
	return "unknown"
}

// AgentError wraps a completion failure with its classification.
type AgentError struct {
	Kind     AgentErrorKind
	Provider string
	// RetryAfter is an optional upstream hint (Retry-After on a 429).
	RetryAfter time.Duration
	Err        error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Retryable reports whether spending retry budget on this failure can help.
func (e *AgentError) Retryable() bool {
	switch e.Kind {
	case AgentRateLimited, AgentProvider, AgentNetwork:
		return true
	}
	return false
}

// NewAgentError wraps err for the given provider.
func NewAgentError(kind AgentErrorKind, provider string, err error) *AgentError {
	return &AgentError{Kind: kind, Provider: provider, Err: err}
}

// AsAgentError unwraps err into an *AgentError if one is in the chain.
func AsAgentError(err error) (*AgentError, bool) {
	var ae *AgentError
	ok := errors.As(err, &ae)
	return ae, ok
}
