package detection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
)

const predictPath = "/predict_fire"

type Client struct {
	URL  string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		URL:  strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// predictResponse keeps message optional so a missing field can be told apart from an empty one
type predictResponse struct {
	Message     *string            `json:"message"`
	Detections  []models.Detection `json:"detections"`
	ResultImage *string            `json:"result_image"`
	Date        string             `json:"date"`
}

// Predict sends the JPEG frame to /predict_fire as the multipart "file" field. No retry: the caller's
// next poll tick is the recovery path.
func (c *Client) Predict(ctx context.Context, sample *models.FrameSample) (*models.DetectionResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}

	if _, err := part.Write(sample.Data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+predictPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInferenceRequestFailed, err)
	}
	defer resp.Body.Close()
	metrics.InferenceDuration.Observe(time.Since(started).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: bad status: %s, error: %s", models.ErrInferenceRequestFailed, resp.Status, bodyBytes)
	}

	var body predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
	}
	if body.Message == nil {
		return nil, fmt.Errorf("%w: message field missing", models.ErrMalformedResponse)
	}

	result := &models.DetectionResult{
		Message:    *body.Message,
		Detections: body.Detections,
		Date:       body.Date,
	}
	if body.ResultImage != nil {
		result.ResultImage = *body.ResultImage
	}
	if result.Detections == nil {
		result.Detections = []models.Detection{}
	}
	return result, nil
}
