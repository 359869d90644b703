// Package capture records the settling video and the wide-angle snapshots.
//
// The recorder guarantees a total amount of recorded footage rather than a
// wall-clock duration: when the stream drops mid-recording it reconnects and
// keeps recording segments until the accumulated footage reaches the target
// or the retry budget is spent. Segments are merged into a single file with
// the ffmpeg concat demuxer. Snapshots are taken concurrently by a scheduler
// that watches a counter of recorded footage fed by ffmpeg progress; offsets
// are keyed to that counter, not wall-clock time, so a flaky stream cannot
// skip or misplace them.
package capture
