package detectionlog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
)

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

// FetchPage calls GET /get_detection_log. Pages below 1 are requested as page 1.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (*models.LogPage, error) {
	if page < 1 {
		page = 1
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/get_detection_log?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLogFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: bad status: %s, error: %s", models.ErrLogFetchFailed, resp.Status, bodyBytes)
	}

	var logPage models.LogPage
	if err := json.NewDecoder(resp.Body).Decode(&logPage); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", models.ErrLogFetchFailed, err)
	}
	if logPage.TotalCount < 0 {
		return nil, fmt.Errorf("%w: negative total_count %d", models.ErrLogFetchFailed, logPage.TotalCount)
	}
	if logPage.Items == nil {
		logPage.Items = []models.LogRecord{}
	}
	logPage.Page = page
	logPage.PageSize = pageSize
	return &logPage, nil
}

// SnapshotURL is where the stored snapshot of a record is served
func (c *Client) SnapshotURL(resultImage string) string {
	return c.URL + "/log/" + url.PathEscape(resultImage)
}

// FetchSnapshot opens GET /log/{result_image}; the caller closes the body
func (c *Client) FetchSnapshot(ctx context.Context, resultImage string) (io.ReadCloser, string, error) {
	if resultImage == "" || strings.ContainsAny(resultImage, `/\`) {
		return nil, "", fmt.Errorf("invalid snapshot name %q", resultImage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SnapshotURL(resultImage), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrLogFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: snapshot %s: %s", models.ErrLogFetchFailed, resultImage, resp.Status)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
