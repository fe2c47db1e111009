package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/aquraretail/erpsync/internal/model"
)

// TestClassify tests mapping of driver errors onto the error taxonomy.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			"constraint violation",
			&pgconn.PgError{Code: "23514", Message: "violates check constraint"},
			ErrRejectedByStore,
		},
		{
			"schema mismatch",
			&pgconn.PgError{Code: "42703", Message: "column does not exist"},
			ErrRejectedByStore,
		},
		{
			"wrapped pg error",
			fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key"}),
			ErrRejectedByStore,
		},
		{
			"dial failure",
			&net.OpError{Op: "dial", Err: errors.New("connection refused")},
			ErrNetworkUnavailable,
		},
		{
			"context deadline",
			context.DeadlineExceeded,
			ErrNetworkUnavailable,
		},
		{
			"plain error",
			errors.New("unexpected EOF"),
			ErrNetworkUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestPublish_RejectsInvalidAggregate tests that a malformed aggregate is
// classified as a store rejection before any network round trip: the zero
// Store has no pool, so reaching the wire would panic.
func TestPublish_RejectsInvalidAggregate(t *testing.T) {
	agg := model.NewAggregate(3, "2025-11-04",
		model.SalesTotals{Bills: 10, Gross: decimal.RequireFromString("100.00")},
		model.ReturnTotals{Returns: 1, Amount: decimal.RequireFromString("10.00")})
	agg.NetAmount = agg.NetAmount.Add(decimal.New(1, 0)) // break net_amount = gross - returns

	s := &Store{}
	err := s.Publish(context.Background(), agg)
	if !errors.Is(err, ErrRejectedByStore) {
		t.Errorf("Publish() err = %v, want ErrRejectedByStore", err)
	}
}

// checkFunc adapts a function to the Checker interface.
type checkFunc func(ctx context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

// TestProbe_EdgeDetection tests that restored fires only on the
// Offline->Online transition.
func TestProbe_EdgeDetection(t *testing.T) {
	var fail bool
	probe := NewProbe(checkFunc(func(context.Context) error {
		if fail {
			return ErrNetworkUnavailable
		}
		return nil
	}))

	ctx := context.Background()

	// Startup counts as a restoration: the probe begins offline.
	online, restored := probe.Check(ctx)
	if !online || !restored {
		t.Errorf("first check = (online=%v, restored=%v), want (true, true)", online, restored)
	}

	// Online -> Online: no edge.
	online, restored = probe.Check(ctx)
	if !online || restored {
		t.Errorf("steady online = (online=%v, restored=%v), want (true, false)", online, restored)
	}

	// Online -> Offline: no edge.
	fail = true
	online, restored = probe.Check(ctx)
	if online || restored {
		t.Errorf("going offline = (online=%v, restored=%v), want (false, false)", online, restored)
	}

	// Offline -> Offline: no edge.
	online, restored = probe.Check(ctx)
	if online || restored {
		t.Errorf("steady offline = (online=%v, restored=%v), want (false, false)", online, restored)
	}

	// Offline -> Online: the drain trigger.
	fail = false
	online, restored = probe.Check(ctx)
	if !online || !restored {
		t.Errorf("restoration = (online=%v, restored=%v), want (true, true)", online, restored)
	}
}

// TestProbe_MarkOffline tests that a mid-cycle publish failure re-arms the
// restoration edge.
func TestProbe_MarkOffline(t *testing.T) {
	probe := NewProbe(checkFunc(func(context.Context) error { return nil }))
	ctx := context.Background()

	probe.Check(ctx)
	if !probe.Online() {
		t.Fatal("probe not online after successful check")
	}

	probe.MarkOffline()
	if probe.Online() {
		t.Error("probe still online after MarkOffline")
	}

	_, restored := probe.Check(ctx)
	if !restored {
		t.Error("restoration edge not re-armed by MarkOffline")
	}
}
