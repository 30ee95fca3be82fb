// Package logging provides structured logging setup for tdbml components.
//
// # Overview
//
// The package wraps log/slog with platform defaults: JSON records on stderr,
// module and version attributes on every record, and source locations when
// running at debug level.
//
// # Log Levels
//
// Supported log levels (case-insensitive):
//   - DEBUG: Detailed diagnostic information with source location
//   - INFO: General informational messages (default)
//   - WARN/WARNING: Potentially problematic situations
//   - ERROR: Failures requiring attention
//
// # Usage
//
//	func main() {
//	    logging.SetDefaultStructuredLoggerWithLevel("tdbml", version, "info")
//	    slog.Info("persistent volume created", "name", "learned-model-volume")
//	}
//
// When the level argument is empty, LOG_LEVEL is consulted:
//
//	LOG_LEVEL=debug tdbml train submit --wait
//
// # Output Format
//
//	{
//	    "time": "2025-01-15T10:30:00.123Z",
//	    "level": "INFO",
//	    "msg": "inference service ready",
//	    "module": "tdbml",
//	    "version": "v1.0.0",
//	    "name": "traindb-ml-serve-pytorch-mnist"
//	}
package logging
