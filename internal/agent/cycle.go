package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquraretail/erpsync/internal/cloud"
	"github.com/aquraretail/erpsync/internal/erp"
	"github.com/aquraretail/erpsync/internal/model"
)

// RunCycle executes one today/yesterday sync pass. If another pass or a
// backfill is in flight the cycle is skipped. Safe to call directly; Run
// calls it on every tick.
func (a *Agent) RunCycle(ctx context.Context) {
	if !a.tryEnter(StateSyncing) {
		a.emitter.Infof("previous sync still running, skipping tick")
		return
	}
	defer a.leave()

	start := a.now()
	today := start.Format(model.DateLayout)
	yesterday := start.AddDate(0, 0, -1).Format(model.DateLayout)

	online, restored := a.probe.Check(ctx)
	if restored {
		a.emitter.Successf("connectivity restored, processing queued records")
		a.drainQueue(ctx)
		online = a.probe.Online()
	}

	status := "online"
	if !online {
		status = "offline"
	}
	a.emitter.Infof("%s - syncing %s and %s", status, today, yesterday)

	// Today first, then yesterday; a failure on one date must not block
	// the other.
	todayAgg := a.syncDate(ctx, today)
	yesterdayAgg := a.syncDate(ctx, yesterday)

	depth, err := a.queue.Depth(ctx)
	if err != nil {
		a.emitter.Errorf("failed to read queue depth: %v", err)
	}

	a.emitter.Successf("cycle finished in %s - today: %s, yesterday: %s, queued: %d",
		time.Since(start).Round(time.Millisecond),
		summarize(todayAgg), summarize(yesterdayAgg), depth)
}

func summarize(agg *model.DailySalesAggregate) string {
	if agg == nil {
		return "skipped"
	}
	return fmt.Sprintf("%d bills (%s)", agg.NetBills, agg.NetAmount.StringFixed(2))
}

// syncDate extracts one date and routes the aggregate to the cloud store
// or the local queue. Returns the aggregate on extraction success (whether
// published or queued), nil when the date had to be skipped.
func (a *Agent) syncDate(ctx context.Context, saleDate string) *model.DailySalesAggregate {
	agg, err := a.extractor.Extract(ctx, saleDate)
	if err != nil {
		// No fabricated zero aggregates: an unreachable ERP is not the
		// same as a day with no sales. The date is retried next cycle.
		if errors.Is(err, erp.ErrSourceUnavailable) {
			a.emitter.Errorf("erp unavailable, skipping %s this cycle: %v", saleDate, err)
		} else {
			a.emitter.Errorf("extraction failed for %s: %v", saleDate, err)
		}
		return nil
	}

	// Already known offline: queue directly instead of a doomed call.
	if !a.probe.Online() {
		a.enqueue(ctx, agg, "offline")
		return agg
	}

	if err := a.publisher.Publish(ctx, agg); err != nil {
		switch {
		case errors.Is(err, cloud.ErrNetworkUnavailable):
			a.probe.MarkOffline()
			a.enqueue(ctx, agg, "publish failed")
		case errors.Is(err, cloud.ErrRejectedByStore):
			a.emitter.Errorf("cloud store rejected %s: %v", saleDate, err)
			a.enqueue(ctx, agg, "rejected")
		default:
			a.emitter.Errorf("publish failed for %s: %v", saleDate, err)
			a.enqueue(ctx, agg, "publish failed")
		}
	}
	return agg
}

// enqueue stores an aggregate in the durable queue. A queue write failure
// is the one error with no further fallback tier, so it is logged loudly.
func (a *Agent) enqueue(ctx context.Context, agg *model.DailySalesAggregate, reason string) {
	if err := a.queue.Enqueue(ctx, agg); err != nil {
		a.emitter.Errorf("DATA AT RISK: could not queue %s locally (%s): %v", agg.SaleDate, reason, err)
		return
	}
	a.emitter.Infof("%s - %s queued for later sync", reason, agg.SaleDate)
}

// drainQueue replays pending records oldest-first. Connectivity failures
// stop the drain without charging any record's retry budget (the store just
// went away again); store rejections fail only the affected record and the
// drain continues.
func (a *Agent) drainQueue(ctx context.Context) {
	records, err := a.queue.Pending(ctx, a.cfg.MaxRetries)
	if err != nil {
		a.emitter.Errorf("failed to read pending queue: %v", err)
		return
	}
	if len(records) == 0 {
		a.pruneQueue(ctx)
		return
	}

	a.emitter.Infof("processing %d queued records", len(records))

	synced := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}

		if err := a.publisher.Publish(ctx, &rec.Aggregate); err != nil {
			// A vanished network is not the record's fault: its retry
			// budget is left alone and the drain resumes on the next
			// restoration.
			if errors.Is(err, cloud.ErrNetworkUnavailable) {
				a.probe.MarkOffline()
				a.emitter.Errorf("connectivity lost mid-drain, %d records still queued", len(records)-synced)
				return
			}
			if markErr := a.queue.MarkFailed(ctx, rec.ID, err); markErr != nil {
				a.emitter.Errorf("failed to record replay failure for record %d: %v", rec.ID, markErr)
			}
			// Structural rejection: this record alone is poisoned.
			if rec.RetryCount+1 >= a.cfg.MaxRetries {
				a.emitter.Warnf("giving up on record %d (%s) after %d attempts: %v",
					rec.ID, rec.Aggregate.SaleDate, rec.RetryCount+1, err)
			} else {
				a.emitter.Errorf("replay failed for record %d (%s): %v", rec.ID, rec.Aggregate.SaleDate, err)
			}
			continue
		}

		if err := a.queue.MarkSynced(ctx, rec.ID); err != nil {
			a.emitter.Errorf("record %d published but not marked synced: %v", rec.ID, err)
			continue
		}
		synced++
	}

	a.emitter.Successf("synced %d/%d queued records", synced, len(records))
	a.pruneQueue(ctx)
}

// pruneQueue removes synced records past the retention window and surfaces
// abandoned records as a persistent warning.
func (a *Agent) pruneQueue(ctx context.Context) {
	if n, err := a.queue.Prune(ctx, a.cfg.RetentionDays); err != nil {
		a.emitter.Errorf("queue pruning failed: %v", err)
	} else if n > 0 {
		a.emitter.Infof("pruned %d synced records older than %d days", n, a.cfg.RetentionDays)
	}

	stats, err := a.queue.Stats(ctx, a.cfg.MaxRetries)
	if err != nil {
		a.emitter.Errorf("failed to read queue stats: %v", err)
		return
	}
	if stats.Abandoned > 0 {
		a.emitter.Warnf("%d queued records exceeded %d retries and need manual review",
			stats.Abandoned, a.cfg.MaxRetries)
	}
}
