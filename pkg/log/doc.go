// Package log provides structured logging for the control plane using
// zerolog: a package-level Logger initialized once via Init, and
// per-component child loggers (WithComponent, WithWorker, WithJobID,
// WithRequestID, WithTransactionID) for contextual fields.
package log
