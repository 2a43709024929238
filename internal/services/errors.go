package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrValidation       = errors.New("validation error")
	ErrTimeout          = errors.New("timeout")
	ErrAgentResponse    = errors.New("invalid agent response")
	ErrAgentCrashed     = errors.New("agent crashed")
	ErrBackpressure     = errors.New("agent queue full")
	ErrDatabase         = errors.New("database error")
	ErrNetwork          = errors.New("network error")
	ErrSystem           = errors.New("system error")
	ErrConfiguration    = errors.New("configuration error")
	ErrTransient        = errors.New("transient failure")
)

// markerKinds orders markers from most to least specific so Kind reports the
// first match when an error carries several.
var markerKinds = []struct {
	marker error
	kind   string
}{
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrInvalidState, "invalid_state"},
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation"},
	{ErrTimeout, "timeout"},
	{ErrAgentResponse, "agent_response"},
	{ErrAgentCrashed, "agent_crashed"},
	{ErrBackpressure, "backpressure"},
	{ErrDatabase, "database"},
	{ErrNetwork, "network"},
	{ErrSystem, "system"},
	{ErrConfiguration, "configuration"},
	{ErrTransient, "transient"},
}

// ErrorClassifier lets errors declare their own kind for frequency counters.
type ErrorClassifier interface {
	ErrorKind() string
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short, stable label for err. Marker sentinels win, then
// ErrorClassifier implementations, then the dynamic type of the innermost error.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	for _, mk := range markerKinds {
		if errors.Is(err, mk.marker) {
			return mk.kind
		}
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	t := reflect.TypeOf(root)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
