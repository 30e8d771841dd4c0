// Package logctx carries a zerolog logger through context.Context.
//
// The build attaches fields as it descends: run_id for the whole invocation,
// then campaign, segment and granule. Anything below reads them back with
// FromContext.
//
//	ctx, runID := logctx.WithRunID(logctx.WithLogger(ctx, base))
//	ctx = logctx.WithCampaign(ctx, c.ID)
//	log := logctx.FromContext(ctx)
//	log.Info().Msg("campaign started")
package logctx

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Field names used across the build.
const (
	FieldRunID    = "run_id"
	FieldCampaign = "campaign"
	FieldSegment  = "segment"
	FieldGranule  = "granule"
)

// loggerKey is the private key type for storing loggers in context.
type loggerKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

func initDefaultLogger() {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
}

// DefaultLogger returns the logger used when the context carries none:
// JSON to stderr with timestamps.
func DefaultLogger() zerolog.Logger {
	initDefaultLogger()
	return defaultLogger
}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context, falling back to the
// default logger. It never returns a zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return DefaultLogger()
}

// WithStr returns a new context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithRunID tags the logger with a fresh random run id and returns it.
func WithRunID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithStr(ctx, FieldRunID, id), id
}

// WithCampaign tags the logger with a campaign id.
func WithCampaign(ctx context.Context, id string) context.Context {
	return WithStr(ctx, FieldCampaign, id)
}

// WithSegment tags the logger with a segment id.
func WithSegment(ctx context.Context, id string) context.Context {
	return WithStr(ctx, FieldSegment, id)
}

// WithGranule tags the logger with a granule id.
func WithGranule(ctx context.Context, id string) context.Context {
	return WithStr(ctx, FieldGranule, id)
}
