package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arxiv-chatbot/internal/logger"
	"arxiv-chatbot/models"
)

// RecordIterator is the lazy stream of catalog results consumed by the
// fetcher. Satisfied by *arxiv.ResultIterator.
type RecordIterator interface {
	Next() bool
	Record() models.PaperRecord
	Err() error
}

// FetchError is the per-record failure recorded after the retry budget
// is spent (or short-circuited for permanent errors).
type FetchError struct {
	URL       string
	Attempts  int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): %v", e.URL, kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads paper PDFs with bounded retry and deliberate pacing.
// The pacing sleep before every attempt is throttling against the remote
// catalog's rate limits, not incidental latency; do not remove it.
type Fetcher struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration

	// jitter returns a value in [0,1); replaceable in tests.
	jitter func() float64
}

func NewFetcher(maxRetries int, baseDelay time.Duration) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		jitter:     rand.Float64,
	}
}

// FetchBatch processes records in catalog order until maxCount downloads
// succeed or the stream is exhausted. Failures are recorded per paper
// and never abort the batch. The returned error is only a stream
// (catalog) error; partial failure is visible in the outcomes.
func (f *Fetcher) FetchBatch(ctx context.Context, it RecordIterator, targetDir string, maxCount int) ([]models.FetchOutcome, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	outcomes := make([]models.FetchOutcome, 0, maxCount)
	successes := 0

	for successes < maxCount && it.Next() {
		rec := it.Record()
		outcome := f.fetchOne(ctx, rec, targetDir)
		outcomes = append(outcomes, outcome)

		if outcome.Success() {
			successes++
			logger.Info("Downloaded paper", "title", rec.Title, "path", outcome.Path, "attempts", outcome.Attempts)
		} else {
			logger.Warn("Skipping paper", "title", rec.Title, "error", outcome.Err)
			if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
				return outcomes, outcome.Err
			}
		}
	}

	if err := it.Err(); err != nil {
		return outcomes, fmt.Errorf("catalog stream: %w", err)
	}
	return outcomes, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rec models.PaperRecord, targetDir string) models.FetchOutcome {
	outcome := models.FetchOutcome{Record: rec}
	path := filepath.Join(targetDir, paperFilename(rec))

	var lastErr error
	var transient bool
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		outcome.Attempts = attempt + 1

		// Fixed jittered pacing before every attempt, first included.
		if err := sleepCtx(ctx, f.pacingDelay()); err != nil {
			outcome.Err = err
			return outcome
		}

		lastErr = f.download(ctx, rec.PDFURL, path)
		if lastErr == nil {
			outcome.Path = path
			return outcome
		}

		transient = isTransient(lastErr)
		logger.Debug("Download attempt failed", "title", rec.Title, "attempt", attempt+1, "transient", transient, "error", lastErr)
		if !transient {
			// Retrying a malformed locator or a hard 4xx would only
			// burn the retry budget.
			break
		}
		if attempt < f.maxRetries-1 {
			if err := sleepCtx(ctx, f.backoffDelay(attempt)); err != nil {
				outcome.Err = err
				return outcome
			}
		}
	}

	outcome.Err = &FetchError{URL: rec.PDFURL, Attempts: outcome.Attempts, Transient: transient, Err: lastErr}
	return outcome
}

func (f *Fetcher) download(ctx context.Context, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &permanentError{err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return err
		}
		return &permanentError{err}
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return &permanentError{err}
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// pacingDelay is independent of the retry count: baseDelay + U(0,1)s.
func (f *Fetcher) pacingDelay() time.Duration {
	return f.baseDelay + time.Duration(f.jitter()*float64(time.Second))
}

// backoffDelay grows exponentially with the attempt number:
// baseDelay * 2^attempt + U(0,1)s.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	backoff := float64(f.baseDelay) * math.Pow(2, float64(attempt))
	return time.Duration(backoff) + time.Duration(f.jitter()*float64(time.Second))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection resets, timeouts, retryable statuses and truncated
	// bodies are all worth another attempt.
	return true
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func paperFilename(rec models.PaperRecord) string {
	id := strings.ReplaceAll(rec.ID, "/", "_")
	if id == "" {
		id = "paper"
	}
	return id + ".pdf"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
