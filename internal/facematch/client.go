package facematch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kozaktomas/face-batch/internal/imagecheck"
)

const (
	defaultRecognizerURL = "http://localhost:8000"
	defaultCacheSize     = 512
	faceEndpoint         = "/embed/face"
)

// ClientConfig configures the HTTP recognizer.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration // per request; zero means no client-side timeout
	CacheSize   int
	MaxImageDim int // images are downscaled above this before upload; zero disables
	HTTPClient  *http.Client
}

// Client detects faces through a face embedding server and compares them locally
// by embedding similarity.
type Client struct {
	baseURL     string
	maxImageDim int
	client      *http.Client
	cache       *lru.Cache[string, []Face]
}

var _ Recognizer = (*Client)(nil)

// NewClient creates a new recognizer client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRecognizerURL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	cache, err := lru.New[string, []Face](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating detection cache: %w", err)
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		maxImageDim: cfg.MaxImageDim,
		client:      httpClient,
		cache:       cache,
	}, nil
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels of the uploaded image
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectFaces returns the faces in an image. Successful detections are cached by
// image fingerprint, so a source image reused across chunks is sent only once.
func (c *Client) DetectFaces(ctx context.Context, image []byte) ([]Face, error) {
	key := Fingerprint(image)
	if faces, ok := c.cache.Get(key); ok {
		return faces, nil
	}

	faces, err := c.detect(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, faces)
	return faces, nil
}

// CompareFaces detects faces in both images and matches every target face
// against the source faces.
func (c *Client) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*Comparison, error) {
	sourceFaces, err := c.DetectFaces(ctx, source)
	if err != nil {
		return nil, relabel(err, "compare")
	}
	targetFaces, err := c.DetectFaces(ctx, target)
	if err != nil {
		return nil, relabel(err, "compare")
	}
	return CompareEmbeddings(sourceFaces, targetFaces, threshold), nil
}

func (c *Client) detect(ctx context.Context, image []byte) ([]Face, error) {
	payload, _, err := imagecheck.Downscale(image, c.maxImageDim)
	if err != nil {
		return nil, &CollaboratorError{Op: "detect", Err: err}
	}
	width, height, err := imagecheck.Dimensions(payload)
	if err != nil {
		return nil, &CollaboratorError{Op: "detect", Err: err}
	}

	body, requestID, status, err := c.postMultipartImage(ctx, faceEndpoint, payload)
	if err != nil {
		return nil, &CollaboratorError{Op: "detect", Status: status, RequestID: requestID, Err: err}
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CollaboratorError{
			Op: "detect", Status: status, RequestID: requestID,
			Err: fmt.Errorf("failed to parse response: %w", err),
		}
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, d := range resp.Faces {
		if len(d.Embedding) == 0 {
			continue
		}
		faces = append(faces, Face{
			Index:       d.FaceIndex,
			BoundingBox: ConvertPixelBBoxToRelative(d.BBox, width, height),
			Confidence:  d.DetScore,
			Embedding:   d.Embedding,
		})
	}
	return faces, nil
}

// postMultipartImage posts the image as a multipart "file" part with an explicit
// Content-Type and returns the body, the server's request id and the HTTP status.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, string, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("X-Request-Id")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestID, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, requestID, resp.StatusCode, fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}

	return body, requestID, resp.StatusCode, nil
}

// relabel reports a detection failure that happened during a comparison as a
// compare failure.
func relabel(err error, op string) error {
	var cerr *CollaboratorError
	if errors.As(err, &cerr) {
		copied := *cerr
		copied.Op = op
		return &copied
	}
	return err
}
