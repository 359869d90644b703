// Package camera models the two capture devices and verifies their
// availability before a run commits to a full recording.
package camera

import (
	"fmt"
	"strings"

	"settlecam/internal/config"
)

// Kind identifies how a device is reached.
type Kind string

const (
	KindUSB  Kind = "usb"
	KindRTSP Kind = "rtsp"
	KindFile Kind = "file"
)

// Device describes a single capture source.
type Device struct {
	Name   string
	Kind   Kind
	Source string
	Width  int
	Height int
	FPS    int
}

// Primary returns the continuous-recording device from config.
func Primary(cfg *config.Config) Device {
	return Device{
		Name:   "cam1",
		Kind:   Kind(cfg.Camera.PrimaryKind),
		Source: cfg.Camera.PrimarySource,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	}
}

// Secondary returns the snapshot device from config and whether one is
// configured at all.
func Secondary(cfg *config.Config) (Device, bool) {
	if strings.TrimSpace(cfg.Camera.SecondarySource) == "" {
		return Device{}, false
	}
	return Device{
		Name:   "cam2",
		Kind:   Kind(cfg.Camera.SecondaryKind),
		Source: cfg.Camera.SecondarySource,
	}, true
}

// InputArgs returns the ffmpeg input arguments for the device. USB devices go
// through the v4l2 demuxer with an explicit capture geometry; RTSP sources
// force TCP transport so packet loss surfaces as a stream error instead of
// silent corruption.
func (d Device) InputArgs() []string {
	switch d.Kind {
	case KindUSB:
		args := []string{"-f", "v4l2"}
		if d.Width > 0 && d.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", d.Width, d.Height))
		}
		if d.FPS > 0 {
			args = append(args, "-framerate", fmt.Sprintf("%d", d.FPS))
		}
		return append(args, "-i", d.Source)
	case KindRTSP:
		return []string{"-rtsp_transport", "tcp", "-i", d.Source}
	default:
		return []string{"-i", d.Source}
	}
}

// Describe returns a short identifier for logging.
func (d Device) Describe() string {
	return fmt.Sprintf("%s(%s %s)", d.Name, d.Kind, d.Source)
}
