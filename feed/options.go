// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import "log/slog"

type (
	// SampleFeedOptions are the resolved sample feed options.
	SampleFeedOptions struct {
		Logger *slog.Logger
	}

	// SampleFeedOption represents a single sample feed option.
	SampleFeedOption interface{ sampleFeed(*SampleFeedOptions) }

	// OutputPublisherOptions are the resolved output publisher options.
	OutputPublisherOptions struct {
		// Expiry is the message expiry in seconds applied to published
		// weights.
		Expiry uint32

		Logger *slog.Logger
	}

	// OutputPublisherOption represents a single output publisher option.
	OutputPublisherOption interface {
		outputPublisher(*OutputPublisherOptions)
	}

	// WithExpiry sets the message expiry in seconds for published weights.
	WithExpiry uint32

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

func (o WithExpiry) outputPublisher(opt *OutputPublisherOptions) {
	opt.Expiry = uint32(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) interface {
	SampleFeedOption
	OutputPublisherOption
} {
	return withLogger{logger}
}

func (o withLogger) sampleFeed(opt *SampleFeedOptions) {
	opt.Logger = o.Logger
}

func (o withLogger) outputPublisher(opt *OutputPublisherOptions) {
	opt.Logger = o.Logger
}

// Apply resolves the provided list of options.
func (o *SampleFeedOptions) Apply(
	opts []SampleFeedOption,
	rest ...SampleFeedOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.sampleFeed(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.sampleFeed(o)
		}
	}
}

// Assign non-nil options.
func (o *SampleFeedOptions) sampleFeed(opt *SampleFeedOptions) {
	if o != nil {
		*opt = *o
	}
}

// Apply resolves the provided list of options.
func (o *OutputPublisherOptions) Apply(
	opts []OutputPublisherOption,
	rest ...OutputPublisherOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.outputPublisher(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.outputPublisher(o)
		}
	}
}

// Assign non-nil options.
func (o *OutputPublisherOptions) outputPublisher(
	opt *OutputPublisherOptions,
) {
	if o != nil {
		*opt = *o
	}
}
