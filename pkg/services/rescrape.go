package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/services/workqueue"
)

// RescrapeTrigger submits a targeted documentation re-scrape. Fire-and-forget:
// callers never wait on or consume a result; the re-scrape's eventual effect
// surfaces as a new proposal on a later generation pass.
type RescrapeTrigger interface {
	TriggerRescrape(sourceURLs []string, filterHint string)
}

// ScrapeSubmitter is the external doc-scraper contract the rescrape task
// calls.
type ScrapeSubmitter interface {
	SubmitScrape(ctx context.Context, sourceURLs []string, filterHint string) error
}

// QueueRescrapeTrigger runs re-scrape submissions through the work queue so
// they retry transient scraper outages without blocking the caller.
type QueueRescrapeTrigger struct {
	queue     *workqueue.Queue
	submitter ScrapeSubmitter
	logger    *zap.Logger
}

// NewQueueRescrapeTrigger creates a QueueRescrapeTrigger.
func NewQueueRescrapeTrigger(queue *workqueue.Queue, submitter ScrapeSubmitter, logger *zap.Logger) *QueueRescrapeTrigger {
	return &QueueRescrapeTrigger{
		queue:     queue,
		submitter: submitter,
		logger:    logger,
	}
}

var _ RescrapeTrigger = (*QueueRescrapeTrigger)(nil)

func (t *QueueRescrapeTrigger) TriggerRescrape(sourceURLs []string, filterHint string) {
	if len(sourceURLs) == 0 {
		t.logger.Warn("rescrape requested with no source urls",
			zap.String("filter_hint", filterHint))
		return
	}

	t.queue.Enqueue(&rescrapeTask{
		id:         uuid.NewString(),
		sourceURLs: sourceURLs,
		filterHint: filterHint,
		submitter:  t.submitter,
	})
}

type rescrapeTask struct {
	id         string
	sourceURLs []string
	filterHint string
	submitter  ScrapeSubmitter
}

func (t *rescrapeTask) ID() string   { return t.id }
func (t *rescrapeTask) Name() string { return "rescrape " + t.filterHint }

func (t *rescrapeTask) RequiresNetwork() bool { return true }

func (t *rescrapeTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.submitter.SubmitScrape(ctx, t.sourceURLs, t.filterHint)
}

// HTTPScrapeSubmitter submits scrape jobs to the doc-scraper service over
// HTTP.
type HTTPScrapeSubmitter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScrapeSubmitter creates a submitter targeting the scraper at baseURL.
func NewHTTPScrapeSubmitter(baseURL string) *HTTPScrapeSubmitter {
	return &HTTPScrapeSubmitter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

var _ ScrapeSubmitter = (*HTTPScrapeSubmitter)(nil)

func (s *HTTPScrapeSubmitter) SubmitScrape(ctx context.Context, sourceURLs []string, filterHint string) error {
	payload, err := json.Marshal(map[string]any{
		"urls":   sourceURLs,
		"filter": filterHint,
	})
	if err != nil {
		return fmt.Errorf("failed to encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/scrapes", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return workqueue.Transient(fmt.Errorf("scrape submission failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return workqueue.Transient(fmt.Errorf("scraper returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("scraper rejected submission with %d", resp.StatusCode)
	}
}

// LogScrapeSubmitter is the fallback used when no scraper endpoint is
// configured. It records the request and succeeds.
type LogScrapeSubmitter struct {
	logger *zap.Logger
}

// NewLogScrapeSubmitter creates a LogScrapeSubmitter.
func NewLogScrapeSubmitter(logger *zap.Logger) *LogScrapeSubmitter {
	return &LogScrapeSubmitter{logger: logger}
}

var _ ScrapeSubmitter = (*LogScrapeSubmitter)(nil)

func (s *LogScrapeSubmitter) SubmitScrape(_ context.Context, sourceURLs []string, filterHint string) error {
	s.logger.Info("scrape submission skipped, no scraper configured",
		zap.Strings("source_urls", sourceURLs),
		zap.String("filter_hint", filterHint))
	return nil
}
