package registry

import (
	"errors"
	"fmt"

	"github.com/dependabot/registry-proxy/internal/model"
)

// ErrInvalidFormat is returned when the credentials payload is not a JSON array of objects.
// The underlying decode error is not included since it may quote a secret.
var ErrInvalidFormat = errors.New("invalid credentials format")

// ConfigError identifies the configuration element that failed validation.
type ConfigError struct {
	// Element is "credential" or "registry".
	Element string
	// Index is the position of the element in its list.
	Index int
	// Field is the offending field, if one can be named.
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid %s #%d", e.Element, e.Index)
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// AmbiguousMatchError is returned when two different credentials match a registry equally well.
type AmbiguousMatchError struct {
	Registry model.Registry
	First    model.Credential
	Second   model.Credential
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous credentials for registry %s: %q and %q match equally", e.Registry.URL, e.First.Address(), e.Second.Address())
}
