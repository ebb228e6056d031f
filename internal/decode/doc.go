// Package decode turns fetched bytes into an image.Image sized for a target
// surface. Planning (Plan) is pure arithmetic over dimensions and policies;
// the Decoder performs the I/O: it probes bounds, optionally reads EXIF
// orientation, replays the probed bytes into the codec and applies the plan.
package decode
