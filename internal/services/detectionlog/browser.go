package detectionlog

import (
	"context"
	"sync"

	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type pageFetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) (*models.LogPage, error)
}

// Browser keeps the page currently on display. A new selection replaces it wholesale;
// a failed fetch leaves it in place.
type Browser struct {
	client   pageFetcher
	pageSize int
	logger   *zap.Logger

	mu      sync.Mutex
	current *models.LogPage
}

func NewBrowser(client pageFetcher, pageSize int, logger *zap.Logger) *Browser {
	return &Browser{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With(zap.String("component", "detection-log")),
	}
}

func (b *Browser) PageSize() int {
	return b.pageSize
}

// Show fetches the requested page, clamped into [1, page_count]. On failure it returns the
// stale page (empty if nothing was shown yet) together with the error.
func (b *Browser) Show(ctx context.Context, page int) (*models.LogPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page = b.clampLocked(page)

	fetched, err := b.client.FetchPage(ctx, page, b.pageSize)
	if err == nil && len(fetched.Items) == 0 && page > fetched.PageCount() {
		// the log shrank since the last view
		fetched, err = b.client.FetchPage(ctx, fetched.PageCount(), b.pageSize)
	}
	if err != nil {
		metrics.LogFetchesTotal.WithLabelValues("failed").Inc()
		b.logger.Warn("keeping stale page", zap.Int("page", page), zap.Error(err))
		return b.currentLocked(), err
	}

	metrics.LogFetchesTotal.WithLabelValues("ok").Inc()
	b.current = fetched
	return fetched, nil
}

// Current returns the page on display without fetching
func (b *Browser) Current() *models.LogPage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

func (b *Browser) clampLocked(page int) int {
	pageCount := 1
	if b.current != nil {
		pageCount = b.current.PageCount()
	} else if page > 1 {
		// nothing known about the total yet, only the lower bound applies
		return page
	}
	return lo.Clamp(page, 1, pageCount)
}

func (b *Browser) currentLocked() *models.LogPage {
	if b.current == nil {
		return &models.LogPage{Items: []models.LogRecord{}, Page: 1, PageSize: b.pageSize}
	}
	return b.current
}
