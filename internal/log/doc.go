// Package log builds the slog loggers used by harvester.
//
// Every logger returned by this package wraps its output handler in a
// SecureHandler, which masks credentials before they reach the output:
//   - attributes whose key names a credential (cookie, token, pass_ticket, ...)
//   - values that look like credentials (bearer tokens, JWTs, session cookies)
//
// Progress is reported through the logger at Info level, so the default level
// is Info and --verbose lowers it to Debug.
//
//	logger := log.New(os.Stderr, log.FormatText, false)
//	logger.Info("fetching", "item", "cat a", "index", 1, "total", 936)
//	logger.Info("session ready", "cookie", cookie) // cookie=***REDACTED***
package log
