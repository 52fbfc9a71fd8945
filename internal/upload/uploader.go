package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// FaultReporter receives REST failures that produced no HTTP response.
type FaultReporter interface {
	ReportFault(err error)
}

// HTTPUploader posts a local file to the backend upload endpoint and
// returns the durable URL the server assigned. The messaging core hands
// files off here and never deals with storage itself.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
	faults   FaultReporter
	logger   *zap.Logger
}

// NewHTTPUploader creates an uploader for the given endpoint.
func NewHTTPUploader(endpoint string, timeout time.Duration, faults FaultReporter, logger *zap.Logger) *HTTPUploader {
	return &HTTPUploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		faults:   faults,
		logger:   logger,
	}
}

// Upload sends the file as multipart form data and returns the durable URL.
func (u *HTTPUploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read upload file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		if u.faults != nil {
			u.faults.ReportFault(err)
		}
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload result: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("upload result missing url")
	}

	u.logger.Info("file uploaded", zap.String("url", result.URL))
	return result.URL, nil
}
