// Package workspace owns the on-disk side of a conversion: the application-private
// root holding per-job working areas, the documents root receiving exports, and the
// file operations jobs use to move data between them.
//
// Layout:
//
//	<private>/Conversions/<job-id>/Request/<file>
//	<private>/Conversions/<job-id>/Output/<file>
//	<documents>/<name>.<format>
package workspace
