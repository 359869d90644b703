// Package services provides the error taxonomy and context annotations shared
// by the measurement pipeline stages.
//
// Stage code wraps failures with Wrap so the workflow manager and the retry
// helpers can classify them without string matching. Context helpers carry the
// run identifier and stage name so log lines stay correlated across packages.
package services
