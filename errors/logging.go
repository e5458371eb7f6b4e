// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "log/slog"

// Attrs exposes the error's structured attributes for slog.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 8)

	a = append(a, slog.Int("kind", int(e.Kind)))

	if e.NodeID != 0 {
		a = append(a, slog.Uint64("node_id", uint64(e.NodeID)))
	}

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case Timeout:
		a = append(a,
			slog.String("timeout_name", e.TimeoutName),
			slog.Duration("timeout_value", e.TimeoutValue),
		)
	case ConfigurationInvalid, ArgumentInvalid, SampleOutOfRange:
		a = append(a,
			slog.String("property_name", e.PropertyName),
			slog.Any("property_value", e.PropertyValue),
		)
	case StateInvalid, PayloadInvalid:
		if e.PropertyName != "" {
			a = append(a, slog.String("property_name", e.PropertyName))
		}
		if e.PropertyValue != nil {
			a = append(a, slog.Any("property_value", e.PropertyValue))
		}
	}

	return a
}
