package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"herdwatch/internal/engine"
)

const maxSnapshotSize = 16 << 20

// SnapshotSource polls a still-image URL once per Read.
type SnapshotSource struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewSnapshotSource(url string, now func() time.Time) *SnapshotSource {
	return &SnapshotSource{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    now,
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (s *SnapshotSource) WithHTTPClient(c *http.Client) *SnapshotSource {
	s.client = c
	return s
}

func (s *SnapshotSource) Open(ctx context.Context) error {
	_, err := s.Read(ctx)
	return err
}

func (s *SnapshotSource) Read(ctx context.Context) (engine.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return engine.Frame{}, fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return engine.Frame{}, fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Frame{}, fmt.Errorf("%w: snapshot returned status %d", ErrStreamRead, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return engine.Frame{}, fmt.Errorf("%w: %v", ErrStreamRead, err)
	}
	if len(data) == 0 {
		return engine.Frame{}, fmt.Errorf("%w: empty snapshot", ErrStreamRead)
	}
	return engine.Frame{Data: data, CapturedAt: s.now()}, nil
}

func (s *SnapshotSource) Close() error { return nil }
