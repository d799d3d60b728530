// Package logging builds the process-wide log/slog logger and carries
// account-scoped loggers through a context.
//
// Usage:
//
//	logger := logging.NewLogger()
//	slog.SetDefault(logger)
//
//	ctx = logging.WithLogger(ctx, logger.With(slog.String("account_id", id)))
//	logging.FromContext(ctx).Warn("operation failed, retrying")
//
// Errors that may carry credentials (request URLs, login responses) are
// passed through SanitizeError before they leave the process.
package logging
