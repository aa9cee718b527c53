// Package detector talks to the inference service that scores frames.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"herdwatch/internal/engine"

	"github.com/samber/lo"
)

// Detector scores one frame.
type Detector interface {
	Detect(ctx context.Context, frame engine.Frame) (engine.Result, error)
}

type Client struct {
	url        string
	model      string
	confidence float64
	classes    []int
	client     *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithClasses keeps only detections of the given class ids.
func WithClasses(classes []int) Option {
	return func(c *Client) { c.classes = append([]int(nil), classes...) }
}

func NewClient(baseURL, model string, confidence float64, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimRight(baseURL, "/"),
		model:      model,
		confidence: confidence,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictResponse struct {
	Detections []engine.Detection `json:"detections"`
}

// Detect posts the JPEG to /predict and returns the filtered detections.
func (c *Client) Detect(ctx context.Context, frame engine.Frame) (engine.Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return engine.Result{}, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(frame.Data); err != nil {
		return engine.Result{}, fmt.Errorf("write image data: %w", err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return engine.Result{}, fmt.Errorf("write model field: %w", err)
		}
	}
	if err := writer.WriteField("conf", strconv.FormatFloat(c.confidence, 'f', -1, 64)); err != nil {
		return engine.Result{}, fmt.Errorf("write conf field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return engine.Result{}, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/predict", &buf)
	if err != nil {
		return engine.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return engine.Result{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return engine.Result{}, fmt.Errorf("bad status: %s, error: %s", resp.Status, body)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return engine.Result{}, fmt.Errorf("decode detections: %w", err)
	}

	dets := pr.Detections
	if len(c.classes) > 0 {
		dets = lo.Filter(dets, func(d engine.Detection, _ int) bool {
			return lo.Contains(c.classes, d.Class)
		})
	}
	return engine.Result{Detections: dets}, nil
}
