// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "time"

type (
	// Error represents a structured acquisition error.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		TimeoutName  string
		TimeoutValue time.Duration

		PropertyName  string
		PropertyValue any

		// NodeID identifies the load-cell node the error concerns, when any.
		NodeID uint32
	}

	// Kind defines the type of error being thrown.
	Kind int
)

// The following are the defined error kinds.
const (
	PayloadInvalid Kind = iota
	Timeout
	Cancellation
	ConfigurationInvalid
	ArgumentInvalid
	StateInvalid
	SampleOutOfRange
	UnknownNode
	MqttError
)

// Error returns the error as a string.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}
