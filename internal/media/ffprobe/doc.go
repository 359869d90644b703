// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// This package has no settlecam-specific dependencies and could be extracted
// as a standalone library.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Primary entry point:
//   - Inspect: executes ffprobe and returns parsed Result
//
// Helper methods on Result provide access to the recorded duration, frame
// rate, and resolution that the capture and sampling layers depend on.
package ffprobe
