/*
Package log provides structured logging for the telemetry service using
zerolog.

A single global Logger is configured once via Init and read from
everywhere else through short-lived component loggers built with
WithComponent, WithBattery, WithSite, WithUser, and WithRequestID. This
keeps call sites free of logger plumbing while still tagging every line
with the context that makes it searchable once aggregated.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	evalLog := log.WithComponent("evaluator")
	evalLog.Info().Str("battery_id", id).Msg("alert opened")

	log.WithBattery(id).Warn().Float64("observed", v).Msg("resistance drift sustained")

# Output

JSONOutput selects structured JSON (production) versus zerolog's
human-readable console writer (local development). Both carry a
timestamp and whatever fields the call site attaches; prefer typed
fields (.Str, .Float64, .Err) over string interpolation so aggregated
logs stay queryable.

# Security

Never log credentials, tokens, or password hashes. Handlers and the
identity service pass user-facing identifiers (user id, login) rather
than secrets into log fields.
*/
package log
