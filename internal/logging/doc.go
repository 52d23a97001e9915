// Package logging provides structured logging for cubic.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. Every long-lived component receives a child
// logger tagged with its component name; per-instance and per-job work adds
// further tags so log lines can be filtered after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	downloads := logger.WithComponent("download")
//	downloads.WithJob(id).Info("job completed", "bytes", n)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"job completed","component":"download","job_id":"...","bytes":1024}
//
// # Log Rotation
//
// Files rotate once they would exceed MaxSizeMB. Backups are named
// cubic.log.1 (newest) to cubic.log.N and are gzip-compressed when
// Compress is set.
package logging
