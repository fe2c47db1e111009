package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aquraretail/erpsync/internal/model"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testAggregate(branchID int, saleDate string) *model.DailySalesAggregate {
	return model.NewAggregate(branchID, saleDate,
		model.SalesTotals{
			Bills:    42,
			Gross:    decimal.RequireFromString("5120.75"),
			Tax:      decimal.RequireFromString("768.11"),
			Discount: decimal.RequireFromString("95.00"),
		},
		model.ReturnTotals{
			Returns: 3,
			Amount:  decimal.RequireFromString("210.50"),
			Tax:     decimal.RequireFromString("31.58"),
		})
}

// TestOpen_CreatesSchema tests that opening creates the sync_queue table.
func TestOpen_CreatesSchema(t *testing.T) {
	q := testQueue(t)

	var count int
	err := q.conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sync_queue'`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("sync_queue table does not exist")
	}
}

// TestEnqueue_RoundTrip tests that an enqueued aggregate comes back intact,
// amounts included, and still satisfies the net invariants.
func TestEnqueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	agg := testAggregate(3, "2025-11-04")
	if err := q.Enqueue(ctx, agg); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	pending, err := q.Pending(ctx, 5)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}

	rec := pending[0]
	if rec.Aggregate.BranchID != 3 || rec.Aggregate.SaleDate != "2025-11-04" {
		t.Errorf("key = (%d, %s), want (3, 2025-11-04)", rec.Aggregate.BranchID, rec.Aggregate.SaleDate)
	}
	if !rec.Aggregate.GrossAmount.Equal(decimal.RequireFromString("5120.75")) {
		t.Errorf("GrossAmount = %s, want 5120.75", rec.Aggregate.GrossAmount)
	}
	if rec.Synced {
		t.Error("fresh record already synced")
	}
	if rec.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", rec.RetryCount)
	}
	if err := rec.Aggregate.Validate(); err != nil {
		t.Errorf("replayed aggregate fails invariants: %v", err)
	}
}

// TestPending_OldestFirst tests chronological drain order.
func TestPending_OldestFirst(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	dates := []string{"2025-11-04", "2025-11-02", "2025-11-03"}
	for _, d := range dates {
		if err := q.Enqueue(ctx, testAggregate(3, d)); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", d, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at
	}

	pending, err := q.Pending(ctx, 5)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	// Enqueue order, not date order: drain follows created_at.
	for i, want := range dates {
		if pending[i].Aggregate.SaleDate != want {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].Aggregate.SaleDate, want)
		}
	}
}

// TestMarkSynced_Once tests that synced transitions false->true exactly once.
func TestMarkSynced_Once(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if err := q.Enqueue(ctx, testAggregate(3, "2025-11-04")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	pending, _ := q.Pending(ctx, 5)
	id := pending[0].ID

	if err := q.MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if err := q.MarkSynced(ctx, id); err == nil {
		t.Error("second MarkSynced() passed, want error")
	}

	pending, _ = q.Pending(ctx, 5)
	if len(pending) != 0 {
		t.Errorf("len(pending) = %d after sync, want 0", len(pending))
	}
}

// TestMarkFailed_RetryCountMonotonic tests that retry_count only grows and
// last_error tracks the latest failure.
func TestMarkFailed_RetryCountMonotonic(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if err := q.Enqueue(ctx, testAggregate(3, "2025-11-04")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	pending, _ := q.Pending(ctx, 5)
	id := pending[0].ID

	last := 0
	for i := 1; i <= 3; i++ {
		if err := q.MarkFailed(ctx, id, fmt.Errorf("attempt %d", i)); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
		pending, _ = q.Pending(ctx, 5)
		if len(pending) != 1 {
			t.Fatalf("record vanished after failure %d", i)
		}
		if pending[0].RetryCount <= last {
			t.Errorf("RetryCount = %d after attempt %d, want > %d", pending[0].RetryCount, i, last)
		}
		last = pending[0].RetryCount
		if want := fmt.Sprintf("attempt %d", i); pending[0].LastError != want {
			t.Errorf("LastError = %q, want %q", pending[0].LastError, want)
		}
	}
}

// TestPending_ExcludesAbandoned tests that records past the retry cap no
// longer drain but are still counted.
func TestPending_ExcludesAbandoned(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if err := q.Enqueue(ctx, testAggregate(3, "2025-11-04")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	pending, _ := q.Pending(ctx, 2)
	id := pending[0].ID

	for i := 0; i < 2; i++ {
		if err := q.MarkFailed(ctx, id, errors.New("constraint violation")); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	pending, err := q.Pending(ctx, 2)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("len(pending) = %d, want 0 once cap reached", len(pending))
	}

	stats, err := q.Stats(ctx, 2)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", stats.Abandoned)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("Depth() = %d, want 1 (abandoned records still count)", depth)
	}
}

// TestPrune_NeverRemovesUnsynced tests pruning safety: only old synced
// records go, unsynced records stay regardless of age.
func TestPrune_NeverRemovesUnsynced(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if err := q.Enqueue(ctx, testAggregate(3, "2025-10-01")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := q.Enqueue(ctx, testAggregate(3, "2025-10-02")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	// Age both records past the retention window, sync only the first.
	old := time.Now().UTC().AddDate(0, 0, -30).Format(timeLayout)
	if _, err := q.conn.Exec(`UPDATE sync_queue SET created_at = ?`, old); err != nil {
		t.Fatalf("failed to age records: %v", err)
	}
	pending, _ := q.Pending(ctx, 5)
	for _, rec := range pending {
		if rec.Aggregate.SaleDate == "2025-10-01" {
			if err := q.MarkSynced(ctx, rec.ID); err != nil {
				t.Fatalf("MarkSynced() failed: %v", err)
			}
		}
	}

	removed, err := q.Prune(ctx, 7)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}

	// The ancient unsynced record must survive.
	pending, err = q.Pending(ctx, 5)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].Aggregate.SaleDate != "2025-10-02" {
		t.Errorf("survivor = %s, want 2025-10-02", pending[0].Aggregate.SaleDate)
	}
}

// TestPrune_KeepsRecentSynced tests that synced records inside the window
// are kept.
func TestPrune_KeepsRecentSynced(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	if err := q.Enqueue(ctx, testAggregate(3, "2025-11-04")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	pending, _ := q.Pending(ctx, 5)
	if err := q.MarkSynced(ctx, pending[0].ID); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	removed, err := q.Prune(ctx, 7)
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Prune() removed %d, want 0", removed)
	}
}

// TestQueue_SurvivesReopen tests durability across process restarts.
func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := q.Enqueue(ctx, testAggregate(3, "2025-11-04")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	q, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q.Close()

	pending, err := q.Pending(ctx, 5)
	if err != nil {
		t.Fatalf("Pending() after reopen failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("len(pending) = %d after reopen, want 1", len(pending))
	}
}

// TestEnqueue_RejectsInvalidAggregate tests that a malformed aggregate is
// refused at the queue boundary instead of becoming a permanently failing
// queue record.
func TestEnqueue_RejectsInvalidAggregate(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	agg := testAggregate(3, "2025-11-04")
	agg.NetBills = agg.NetBills + 1 // break net_bills = total_bills - total_returns

	if err := q.Enqueue(ctx, agg); err == nil {
		t.Fatal("Enqueue() accepted an aggregate violating the net invariant")
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() = %d, want 0 (nothing should have been stored)", depth)
	}
}

// TestStats_OldestPending tests that Stats reports the earliest replayable
// sale date as a plain date string.
func TestStats_OldestPending(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)

	for _, date := range []string{"2025-11-04", "2025-10-30", "2025-11-02"} {
		if err := q.Enqueue(ctx, testAggregate(3, date)); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", date, err)
		}
	}

	stats, err := q.Stats(ctx, 5)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.OldestPending != "2025-10-30" {
		t.Errorf("OldestPending = %q, want 2025-10-30", stats.OldestPending)
	}

	empty := testQueue(t)
	stats, err = empty.Stats(ctx, 5)
	if err != nil {
		t.Fatalf("Stats() on empty queue failed: %v", err)
	}
	if stats.OldestPending != "" {
		t.Errorf("OldestPending = %q on empty queue, want empty string", stats.OldestPending)
	}
}

// TestTimeLayout_Ordering tests that stored created_at strings sort exactly
// like the times they encode, including fractional seconds that a
// trailing-zero-trimming format would misorder.
func TestTimeLayout_Ordering(t *testing.T) {
	base := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	pairs := []struct {
		earlier, later time.Time
	}{
		{base.Add(100 * time.Millisecond), base.Add(150 * time.Millisecond)},
		{base.Add(time.Nanosecond), base.Add(time.Millisecond)},
		{base, base.Add(time.Second)},
		{base.Add(999 * time.Millisecond), base.Add(time.Second)},
	}

	for _, p := range pairs {
		a, b := p.earlier.Format(timeLayout), p.later.Format(timeLayout)
		if len(a) != len(b) {
			t.Errorf("widths differ: %q vs %q", a, b)
		}
		if !(a < b) {
			t.Errorf("%q does not sort before %q", a, b)
		}
		back, err := time.Parse(timeLayout, a)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", a, err)
		}
		if !back.Equal(p.earlier) {
			t.Errorf("round trip changed %v to %v", p.earlier, back)
		}
	}
}
