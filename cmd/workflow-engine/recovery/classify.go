// Package recovery implements the per-node failure handling layer: error
// classification, recovery policies (retry, fallback, default, skip,
// fail-fast, circuit-break), retry accounting, circuit breakers, and the
// bounded handler loop the engine wraps around every node execution.
package recovery

import (
	"errors"
	"strings"
)

// Kind classifies a node error for policy selection
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindResource      Kind = "resource"
	KindPermission    Kind = "permission"
	KindConfiguration Kind = "configuration"
	KindData          Kind = "data"
	KindDependency    Kind = "dependency"
	KindExecution     Kind = "execution"
	KindValidation    Kind = "validation"
	KindQuota         Kind = "quota"
)

// classification rules applied in order against the lowercased message
var kindKeywords = []struct {
	kind     Kind
	keywords []string
}{
	{KindNetwork, []string{"connection", "network", "dns", "socket", "http"}},
	{KindTimeout, []string{"timeout"}},
	{KindResource, []string{"memory", "disk", "resource", "limit", "quota"}},
	{KindPermission, []string{"permission", "unauthorized", "forbidden", "access"}},
	{KindConfiguration, []string{"config", "configuration", "missing", "invalid"}},
	{KindData, []string{"json", "parse", "format", "decode", "encode"}},
	{KindDependency, []string{"import", "module", "dependency", "not found"}},
}

// ClassifiedError carries an explicit kind set by the raiser. Validation
// and quota errors are only ever raised this way.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// WithKind wraps an error with an explicit classification
func WithKind(kind Kind, err error) error {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify derives the error kind. Explicit classifications win; otherwise
// the message is matched case-insensitively against the keyword table, in
// order, defaulting to execution.
func Classify(err error) Kind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range kindKeywords {
		for _, keyword := range rule.keywords {
			if strings.Contains(msg, keyword) {
				return rule.kind
			}
		}
	}

	return KindExecution
}
