package camera_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"settlecam/internal/camera"
	"settlecam/internal/config"
	"settlecam/internal/logging"
	"settlecam/internal/services"
)

func TestInputArgs(t *testing.T) {
	cases := []struct {
		name   string
		device camera.Device
		want   []string
	}{
		{
			name:   "usb with geometry",
			device: camera.Device{Kind: camera.KindUSB, Source: "/dev/video0", Width: 1280, Height: 720, FPS: 15},
			want:   []string{"-f", "v4l2", "-video_size", "1280x720", "-framerate", "15", "-i", "/dev/video0"},
		},
		{
			name:   "usb without geometry",
			device: camera.Device{Kind: camera.KindUSB, Source: "/dev/video2"},
			want:   []string{"-f", "v4l2", "-i", "/dev/video2"},
		},
		{
			name:   "rtsp forces tcp",
			device: camera.Device{Kind: camera.KindRTSP, Source: "rtsp://cam.local/stream"},
			want:   []string{"-rtsp_transport", "tcp", "-i", "rtsp://cam.local/stream"},
		},
		{
			name:   "file",
			device: camera.Device{Kind: camera.KindFile, Source: "/data/sample.mp4"},
			want:   []string{"-i", "/data/sample.mp4"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.device.InputArgs(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("InputArgs() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPrimaryAndSecondaryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.PrimaryKind = "rtsp"
	cfg.Camera.PrimarySource = "rtsp://cam1.local/stream"

	primary := camera.Primary(&cfg)
	if primary.Kind != camera.KindRTSP || primary.Source != "rtsp://cam1.local/stream" {
		t.Fatalf("unexpected primary device: %+v", primary)
	}
	if primary.Name != "cam1" {
		t.Fatalf("unexpected primary name: %q", primary.Name)
	}

	if _, ok := camera.Secondary(&cfg); ok {
		t.Fatal("expected no secondary device without a source")
	}

	cfg.Camera.SecondarySource = "rtsp://cam2.local/stream"
	cfg.Camera.SecondaryKind = "rtsp"
	secondary, ok := camera.Secondary(&cfg)
	if !ok {
		t.Fatal("expected secondary device")
	}
	if secondary.Name != "cam2" || secondary.Kind != camera.KindRTSP {
		t.Fatalf("unexpected secondary device: %+v", secondary)
	}
}

func TestCheckReportsHardwareErrorForMissingDevice(t *testing.T) {
	checker := camera.NewChecker(filepath.Join(t.TempDir(), "missing-ffmpeg"), time.Second, logging.NewNop())
	device := camera.Device{Name: "cam1", Kind: camera.KindFile, Source: "/nonexistent.mp4"}

	err := checker.Check(context.Background(), device)
	if err == nil {
		t.Fatal("expected error from missing binary")
	}
	if !errors.Is(err, services.ErrHardware) {
		t.Fatalf("expected hardware classification, got %v", err)
	}
}
