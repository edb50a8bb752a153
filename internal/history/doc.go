// Package history keeps a record of finished conversions: what was converted, where the
// result went, how it ended and how long it took. It is a log, not a job store; nothing
// here is used to resume work after a restart.
package history
