// Package cloud publishes daily sales aggregates to the central Postgres
// store and probes its reachability.
//
// Publishing is an upsert keyed on (branch_id, sale_date): replaying the
// same aggregate any number of times, in any order, converges to the same
// stored row. That property is what lets the offline queue replay records
// out of order or more than once after a crash without double counting.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aquraretail/erpsync/internal/model"
)

// ErrNetworkUnavailable marks transient reachability failures. The caller
// should queue the aggregate locally and retry on the next Offline->Online
// transition.
var ErrNetworkUnavailable = errors.New("cloud store unreachable")

// ErrRejectedByStore marks structural rejections (constraint or schema
// violations). Retrying these forever cannot succeed, so the caller records
// the failure and retries only up to a bounded cap.
var ErrRejectedByStore = errors.New("rejected by cloud store")

// Store wraps the Postgres connection pool for the central data store.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against the cloud store. The caller MUST call Close.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to configure cloud pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Check performs a cheap round trip against the store. It is light enough
// to run every cycle.
func (s *Store) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify(err)
	}
	return nil
}

// Publish upserts one aggregate into erp_daily_sales. All non-key fields
// are overwritten and last_sync_at is refreshed, whether the row existed
// or not. A locally invalid aggregate is reported as a store rejection
// without spending a network round trip, since the server would refuse it
// anyway.
func (s *Store) Publish(ctx context.Context, agg *model.DailySalesAggregate) error {
	if err := agg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrRejectedByStore, err)
	}
	query := `
	INSERT INTO erp_daily_sales (
		branch_id, sale_date,
		total_bills, total_returns, net_bills,
		gross_amount, tax_amount, discount_amount,
		return_amount, return_tax, net_amount, net_tax,
		last_sync_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (branch_id, sale_date) DO UPDATE SET
		total_bills     = EXCLUDED.total_bills,
		total_returns   = EXCLUDED.total_returns,
		net_bills       = EXCLUDED.net_bills,
		gross_amount    = EXCLUDED.gross_amount,
		tax_amount      = EXCLUDED.tax_amount,
		discount_amount = EXCLUDED.discount_amount,
		return_amount   = EXCLUDED.return_amount,
		return_tax      = EXCLUDED.return_tax,
		net_amount      = EXCLUDED.net_amount,
		net_tax         = EXCLUDED.net_tax,
		last_sync_at    = EXCLUDED.last_sync_at
	`

	_, err := s.pool.Exec(ctx, query,
		agg.BranchID,
		agg.SaleDate,
		agg.TotalBills,
		agg.TotalReturns,
		agg.NetBills,
		agg.GrossAmount.StringFixed(2),
		agg.TaxAmount.StringFixed(2),
		agg.DiscountAmount.StringFixed(2),
		agg.ReturnAmount.StringFixed(2),
		agg.ReturnTax.StringFixed(2),
		agg.NetAmount.StringFixed(2),
		agg.NetTax.StringFixed(2),
		time.Now().UTC(),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ConnectionProfile describes one agent installation as registered in the
// cloud's erp_connections table.
type ConnectionProfile struct {
	BranchID   int
	BranchName string
	DeviceID   string
	ServerIP   string
	Database   string
	Username   string
}

// RegisterConnection upserts this agent's connection profile, keyed on
// (branch_id, device_id), so operators can see which machines sync which
// branches.
func (s *Store) RegisterConnection(ctx context.Context, p ConnectionProfile) error {
	query := `
	INSERT INTO erp_connections (
		branch_id, branch_name, device_id, server_ip, database_name, username,
		is_active, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,true,$7)
	ON CONFLICT (branch_id, device_id) DO UPDATE SET
		branch_name   = EXCLUDED.branch_name,
		server_ip     = EXCLUDED.server_ip,
		database_name = EXCLUDED.database_name,
		username      = EXCLUDED.username,
		is_active     = true,
		updated_at    = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		p.BranchID, p.BranchName, p.DeviceID, p.ServerIP, p.Database, p.Username,
		time.Now().UTC(),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps a pgx error to the agent's error taxonomy. An error the
// server itself produced is a structural rejection; everything else
// (dial failures, resets, timeouts) is treated as connectivity.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s (SQLSTATE %s)", ErrRejectedByStore, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}
