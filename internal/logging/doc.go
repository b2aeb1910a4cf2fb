// Package logging provides opt-in file-based logging with rotation for ragcore.
// When the --debug flag is set, comprehensive logs are written to ~/.ragcore/logs/
// for debugging and troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only,
// except under `serve`, which always logs to the file so stdout stays clean.
package logging
