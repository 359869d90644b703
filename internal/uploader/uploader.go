// Package uploader pushes finalized run artifacts to external object storage.
//
// The upload is best-effort: the locally persisted result is the durability
// fallback, so a failed upload surfaces as a warning event rather than a run
// failure.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"settlecam/internal/archive"
	"settlecam/internal/config"
	"settlecam/internal/logging"
	"settlecam/internal/retry"
	"settlecam/internal/services"
)

// Client defines the archival surface exposed to the workflow.
type Client interface {
	Store(ctx context.Context, localPath string) error
	Enabled() bool
}

// NewClient builds an object-storage client when configured; otherwise a noop
// client that reports itself disabled.
func NewClient(cfg *config.Config, logger *slog.Logger) Client {
	if !cfg.Storage.Enabled {
		return noopClient{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := time.Duration(cfg.Storage.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &httpClient{
		endpoint: strings.TrimRight(cfg.Storage.Endpoint, "/"),
		bucket:   cfg.Storage.Bucket,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(logging.String(logging.FieldComponent, "uploader")),
		policy: retry.Policy{
			MaxAttempts: cfg.Storage.RetryAttempts,
			Delay:       2 * time.Second,
			MaxDelay:    time.Minute,
		},
	}
}

type httpClient struct {
	endpoint string
	bucket   string
	client   *http.Client
	logger   *slog.Logger
	policy   retry.Policy
}

// Store uploads one local file with a PUT to endpoint/bucket/name. On the
// first success it drops the uploaded marker next to the file so a later
// archive pass knows the data left the device.
func (c *httpClient) Store(ctx context.Context, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "publishing", "upload",
			fmt.Sprintf("stat %s", localPath), err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, "publishing", "upload",
			fmt.Sprintf("%s is a directory", localPath), nil)
	}

	objectURL := fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, filepath.Base(localPath))
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		return c.put(ctx, objectURL, localPath, info.Size())
	})
	if err != nil {
		return err
	}

	if markErr := archive.MarkUploaded(filepath.Dir(localPath)); markErr != nil {
		c.logger.Warn("uploaded marker write failed",
			logging.String("path", localPath),
			logging.Error(markErr))
	}
	c.logger.Info("artifact uploaded",
		logging.String("object_url", objectURL),
		logging.Int64("size_bytes", info.Size()))
	return nil
}

func (c *httpClient) put(ctx context.Context, objectURL, localPath string, size int64) error {
	file, err := os.Open(localPath)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "publishing", "upload",
			fmt.Sprintf("open %s", localPath), err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, file)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "upload", objectURL, err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentTypeFor(localPath))

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "publishing", "upload", objectURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return services.Wrap(services.ErrTransient, "publishing", "upload",
			fmt.Sprintf("storage returned %d for %s", resp.StatusCode, objectURL), nil)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrValidation, "publishing", "upload",
			fmt.Sprintf("storage returned %d for %s: %s", resp.StatusCode, objectURL,
				strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *httpClient) Enabled() bool { return true }

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

type noopClient struct{}

func (noopClient) Store(context.Context, string) error { return nil }
func (noopClient) Enabled() bool                       { return false }
