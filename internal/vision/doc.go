// Package vision implements the frame analysis that locates the liquid/solid
// interface in a settling test.
//
// The pipeline per frame is: crop to the calibrated region of interest, apply
// the container mask built once per run, binarize with Otsu's threshold
// (bright = clear liquid, dark = settled solids), scan evenly spaced columns
// top-down for the first sustained dark run, then reject outlier columns in
// two stages and average the trimmed survivors. The mixture top is anchored
// on the first frame and reused for every later frame of the run.
package vision
