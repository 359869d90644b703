package camera

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"settlecam/internal/logging"
	"settlecam/internal/services"
)

// Checker probes devices by decoding a single frame. A camera that opens but
// never delivers a frame is as unusable as an absent one, so the probe reads
// real data rather than just stat-ing the device node.
type Checker struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker builds a Checker that runs the given ffmpeg binary.
func NewChecker(binary string, timeout time.Duration, logger *slog.Logger) *Checker {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{binary: binary, timeout: timeout, logger: logging.NewComponentLogger(logger, "camera")}
}

// Check verifies that the device produces at least one decodable frame within
// the probe timeout.
func (c *Checker) Check(ctx context.Context, device Device) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{"-v", "error", "-hide_banner"}, device.InputArgs()...)
	args = append(args, "-frames:v", "1", "-f", "null", "-")

	started := time.Now()
	cmd := exec.CommandContext(probeCtx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return services.Wrap(services.ErrTimeout, "preflight", "camera check", device.Describe()+" produced no frame within timeout", probeCtx.Err())
		}
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return services.Wrap(services.ErrHardware, "preflight", "camera check", device.Describe()+": "+detail, err)
	}

	c.logger.Debug("camera probe ok",
		logging.String("device", device.Describe()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}
