package blob

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CloudinaryAPI is the default REST endpoint.
const CloudinaryAPI = "https://api.cloudinary.com/v1_1"

// Cloudinary uploads images using the Cloudinary REST API. Refs are secure URLs.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client
	now       func() time.Time
}

// NewCloudinary creates a Cloudinary store.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    strings.Trim(folder, "/"),
		BaseURL:   CloudinaryAPI,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// Save uploads r under name (without extension) as the public id.
func (c *Cloudinary) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	res, err := c.Upload(ctx, name, r)
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}

// Upload sends one image and returns Cloudinary's description of it.
func (c *Cloudinary) Upload(ctx context.Context, name string, r io.Reader) (*UploadResult, error) {
	params := c.baseParams()
	params["public_id"] = strings.TrimSuffix(name, path.Ext(name))
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", path.Base(name))
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	var result UploadResult
	if err := c.call(ctx, "upload", w.FormDataContentType(), &buf, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Delete destroys the image behind a secure URL returned by Save.
func (c *Cloudinary) Delete(ctx context.Context, ref string) error {
	publicID, err := PublicIDFromURL(ref)
	if err != nil {
		return err
	}
	params := c.baseParams()
	params["public_id"] = publicID
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	w.Close()

	var result struct {
		Result string `json:"result"`
	}
	if err := c.call(ctx, "destroy", w.FormDataContentType(), &buf, &result); err != nil {
		return err
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("cloudinary: destroy %s: %s", publicID, result.Result)
	}
	return nil
}

func (c *Cloudinary) baseParams() map[string]string {
	return map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"api_key":   c.APIKey,
	}
}

func (c *Cloudinary) call(ctx context.Context, action, contentType string, body io.Reader, out any) error {
	url := fmt.Sprintf("%s/%s/image/%s", strings.TrimRight(c.BaseURL, "/"), c.CloudName, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudinary: %s failed (%d): %s", action, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key, file and resource_type are not signed.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// PublicIDFromURL extracts the public id from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v1712/folder/E001/abc.jpg.
func PublicIDFromURL(ref string) (string, error) {
	_, rest, ok := strings.Cut(ref, "/upload/")
	if !ok || rest == "" {
		return "", fmt.Errorf("cloudinary: not a delivery url: %q", ref)
	}
	if first, tail, found := strings.Cut(rest, "/"); found && len(first) > 1 && first[0] == 'v' {
		if _, err := strconv.ParseInt(first[1:], 10, 64); err == nil {
			rest = tail
		}
	}
	return strings.TrimSuffix(rest, path.Ext(rest)), nil
}
