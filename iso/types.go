// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package iso

import (
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"
)

// Wrappers for the native Go time types that will serialize to ISO 8601.
type (
	// DateTime is a date and time in ISO 8601 format, per RFC 3339. Fractional
	// seconds are preserved; sample timestamps carry sub-millisecond precision.
	DateTime time.Time

	// Duration is a duration in ISO 8601 format.
	Duration time.Duration
)

// String returns the date-time to an ISO 8601 string.
func (dt DateTime) String() string {
	return time.Time(dt).Format(time.RFC3339Nano)
}

// MarshalText marshals the date-time to an ISO 8601 string.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText unmarshals the date-time from an ISO 8601 string.
func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*dt = DateTime(parsed)
	return nil
}

// String returns the duration to an ISO 8601 string.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText marshals the duration to an ISO 8601 string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText unmarshals the duration from an ISO 8601 string.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := duration.Parse(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed.ToTimeDuration())
	return nil
}
