// Package exporter delivers persisted submissions to an external
// webhook, replacing manual spreadsheet syncs. Rows are marked synced
// only after the webhook acknowledges them.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/store"
)

const batchLimit = 50

// Exporter pushes unsynced submissions to the configured webhook.
type Exporter struct {
	webhookURL string
	repo       store.Repository
	httpc      *http.Client
	log        *slog.Logger
}

// New creates an exporter. A nil return means exporting is disabled
// (no webhook configured).
func New(webhookURL string, repo store.Repository, httpc *http.Client, logger *slog.Logger) *Exporter {
	if webhookURL == "" {
		return nil
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{webhookURL: webhookURL, repo: repo, httpc: httpc, log: logger}
}

// Result summarizes one sync pass for the admin trigger.
type Result struct {
	Exported int `json:"exported"`
	Failed   int `json:"failed"`
}

// Sync delivers every unsynced submission, one webhook POST per record
// with exponential backoff on transient failures.
func (e *Exporter) Sync(ctx context.Context) (Result, error) {
	var res Result

	records, err := e.repo.ListUnsynced(ctx, batchLimit)
	if err != nil {
		return res, fmt.Errorf("list unsynced submissions: %w", err)
	}

	for _, rec := range records {
		if err := e.deliver(ctx, rec); err != nil {
			res.Failed++
			e.log.Warn("export delivery failed", "id", rec.ID, "email", rec.Email, "error", err)
			continue
		}
		if err := e.repo.MarkSynced(ctx, rec.ID); err != nil {
			res.Failed++
			e.log.Error("failed to mark submission synced", "id", rec.ID, "error", err)
			continue
		}
		res.Exported++
	}

	if res.Exported > 0 || res.Failed > 0 {
		e.log.Info("export pass complete", "exported", res.Exported, "failed", res.Failed)
	}
	return res, nil
}

func (e *Exporter) deliver(ctx context.Context, rec *domain.SubmissionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal submission record: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.webhookURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// StartWorker runs periodic sync passes until ctx is canceled. No-op
// when the exporter is disabled.
func StartWorker(ctx context.Context, e *Exporter, interval time.Duration) {
	if e == nil {
		slog.Info("Export worker disabled (no webhook configured)")
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("Export worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				if _, err := e.Sync(ctx); err != nil {
					slog.Error("Export worker sync failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("Export worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
