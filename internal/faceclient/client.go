// Package faceclient talks to the face detection and embedding microservice.
package faceclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"faceattend/internal/model"
)

// SkipDimension is the length of vectors produced in skip mode.
const SkipDimension = 128

// Client calls the face recognition microservice. With Skip set no request
// is made and results are derived from the image bytes.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	FacesDetected int       `json:"faces_detected"`
	Box           model.Box `json:"box"`
	Confidence    float64   `json:"confidence"`
	Sharpness     float64   `json:"sharpness"`
	Brightness    float64   `json:"brightness"`
}

type embedResponse struct {
	Embedding    []float32 `json:"embedding"`
	ModelName    string    `json:"model_name"`
	ModelVersion string    `json:"model_version"`
}

// Detect returns the most prominent face in the image at ref, or nil when
// the service finds none.
func (c *Client) Detect(ctx context.Context, ref string) (*model.Detection, error) {
	if c.Skip {
		return &model.Detection{
			Box:        model.Box{Width: 200, Height: 200},
			Confidence: 0.99,
			Sharpness:  250,
			Brightness: 120,
		}, nil
	}
	var out detectResponse
	found, err := c.post(ctx, "/detect", ref, &out)
	if err != nil || !found || out.FacesDetected == 0 {
		return nil, err
	}
	return &model.Detection{
		Box:        out.Box,
		Confidence: out.Confidence,
		Sharpness:  out.Sharpness,
		Brightness: out.Brightness,
	}, nil
}

// Embed returns the embedding of the face at ref, or nil when none could be extracted.
func (c *Client) Embed(ctx context.Context, ref string) (*model.Extraction, error) {
	if c.Skip {
		vec, err := skipVector(ref)
		if err != nil {
			return nil, err
		}
		return &model.Extraction{Vector: vec, ModelName: "skip", ModelVersion: "1"}, nil
	}
	var out embedResponse
	found, err := c.post(ctx, "/embed", ref, &out)
	if err != nil || !found || len(out.Embedding) == 0 {
		return nil, err
	}
	return &model.Extraction{Vector: out.Embedding, ModelName: out.ModelName, ModelVersion: out.ModelVersion}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

// post sends ref to path and decodes the answer into out. found is false
// when the service answers 422, its way of saying no face was found.
func (c *Client) post(ctx context.Context, path, ref string, out any) (found bool, err error) {
	if ref == "" {
		return false, fmt.Errorf("image reference required")
	}
	req, err := c.newRequest(ctx, path, ref)
	if err != nil {
		return false, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

// newRequest sends remote refs by URL and local files as multipart uploads.
func (c *Client) newRequest(ctx context.Context, path, ref string) (*http.Request, error) {
	if isURL(ref) {
		body, _ := json.Marshal(map[string]string{"image_url": ref})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(ref))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// skipVector derives a unit vector from the image content (or the ref itself
// when it is not a readable file), so the same photo always matches itself.
func skipVector(ref string) ([]float32, error) {
	seed := []byte(ref)
	if !isURL(ref) {
		if data, err := os.ReadFile(ref); err == nil {
			seed = data
		}
	}
	sum := sha256.Sum256(seed)
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	vec := make([]float32, SkipDimension)
	var norm float64
	for i := range vec {
		v := r.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
