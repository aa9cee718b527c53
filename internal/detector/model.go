package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"herdwatch/internal/logger"
)

// ErrModelMissing is returned when the weights file is absent and cannot be
// downloaded.
var ErrModelMissing = errors.New("model weights missing")

// EnsureModel returns the local weights path for modelPath, downloading it
// from modelURL into weightsDir when it does not exist yet. A bare file name
// is resolved inside weightsDir.
func EnsureModel(ctx context.Context, client *http.Client, weightsDir, modelPath, modelURL string) (string, error) {
	if modelPath == "" {
		return "", fmt.Errorf("%w: no model configured", ErrModelMissing)
	}
	path := modelPath
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(weightsDir, path)
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if modelURL == "" {
		return "", fmt.Errorf("%w: %s not found and no download URL configured", ErrModelMissing, path)
	}

	log := logger.Tagged("model")
	log.Infof("Model %s not found, downloading from %s", path, modelURL)
	if client == nil {
		client = http.DefaultClient
	}
	if err := download(ctx, client, modelURL, path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelMissing, err)
	}
	log.Infof("Model saved to %s", path)
	return path, nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
