// Package jobutil provides shared helpers for the pipeline run lifecycle.
//
// SetRunError unifies the failure path: log the error with its AWS error code
// and the stage it happened in, then hand it to an optional writer that
// persists the failure (the run ledger).
package jobutil

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// ErrorWriter persists a run failure to the backing store.
type ErrorWriter func(ctx context.Context, runID, stage, errMsg string) error

// ErrorCode returns the AWS API error code carried by err (e.g.
// "AccessDenied", "ValidationException"), or "" for non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// ErrorFault classifies err as "client", "server" or "" when unknown.
func ErrorFault(err error) string {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch apiErr.ErrorFault() {
	case smithy.FaultClient:
		return "client"
	case smithy.FaultServer:
		return "server"
	default:
		return ""
	}
}

// SetRunError logs the failure on logger and, when write is non-nil,
// delegates persistence to it. A persistence failure is logged and returned;
// it never replaces the original error at the call site.
func SetRunError(ctx context.Context, logger zerolog.Logger, runID, stage string, err error, write ErrorWriter) error {
	evt := logger.Error().Err(err).Str("runId", runID).Str("stage", stage)
	if code := ErrorCode(err); code != "" {
		evt = evt.Str("errorCode", code).Str("fault", ErrorFault(err))
	}
	evt.Msg("Error occurred while processing data")

	if write == nil {
		return nil
	}
	if werr := write(ctx, runID, stage, err.Error()); werr != nil {
		logger.Warn().Err(werr).Str("runId", runID).Msg("Failed to persist run failure")
		return werr
	}
	return nil
}
