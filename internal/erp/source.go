// Package erp extracts per-date sales aggregates from the branch's
// on-premise ERP database (Microsoft SQL Server).
//
// Extraction is read-only and side-effect free: calling Extract repeatedly
// for the same date is a pure function of the ERP's state at call time. A
// day with no vouchers is a valid all-zero aggregate, not an error.
package erp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aquraretail/erpsync/internal/config"
	"github.com/aquraretail/erpsync/internal/model"
	_ "github.com/microsoft/go-mssqldb"
)

// ErrSourceUnavailable marks ERP connection failures and query timeouts.
// The caller skips the affected date and retries next cycle; it must never
// fabricate a zero aggregate in this case.
var ErrSourceUnavailable = errors.New("erp source unavailable")

// ErrNoData is returned by DateRange when the ERP has no sale vouchers at
// all, so there is nothing to backfill.
var ErrNoData = errors.New("no sales data in erp source")

// Voucher type codes in InvTransactionMaster.
const (
	voucherSale   = "SI"
	voucherReturn = "SR"
)

// Source issues date-scoped aggregation queries against the ERP database.
type Source struct {
	conn         *sql.DB
	branchID     int
	queryTimeout time.Duration
}

// Open connects to the ERP SQL Server described by cfg for the given
// branch. The pool is bounded (cfg.MaxPoolSize) because the same pool is
// shared by the periodic sync and backfill. The caller MUST call Close.
func Open(cfg config.ERPConfig, branchID int) (*Source, error) {
	dsn := buildDSN(cfg)

	conn, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open connection: %v", ErrSourceUnavailable, err)
	}

	conn.SetMaxOpenConns(cfg.MaxPoolSize)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxIdleTime(30 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrSourceUnavailable, err)
	}

	return &Source{
		conn:         conn,
		branchID:     branchID,
		queryTimeout: cfg.QueryTimeout,
	}, nil
}

// buildDSN renders a sqlserver:// connection string. Branch ERP servers run
// on trusted LANs with self-signed certificates, so certificate validation
// is disabled the same way the legacy deployments configure it.
func buildDSN(cfg config.ERPConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("encrypt", "true")
	q.Set("trustservercertificate", "true")
	q.Set("dial timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Close closes the ERP connection pool.
func (s *Source) Close() error {
	return s.conn.Close()
}

// Ping verifies the ERP connection is alive.
func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// Extract aggregates the given calendar date's sale and return vouchers
// and returns the combined aggregate with derived net fields computed.
//
// The date comparison is date-only (CAST(TransactionDate AS DATE)), not a
// timestamp range, so results do not drift with the server's timezone.
func (s *Source) Extract(ctx context.Context, saleDate string) (*model.DailySalesAggregate, error) {
	if _, err := time.Parse(model.DateLayout, saleDate); err != nil {
		return nil, fmt.Errorf("invalid sale date %q: %w", saleDate, err)
	}

	sales, err := s.saleTotals(ctx, saleDate)
	if err != nil {
		return nil, err
	}
	returns, err := s.returnTotals(ctx, saleDate)
	if err != nil {
		return nil, err
	}

	return model.NewAggregate(s.branchID, saleDate, sales, returns), nil
}

// saleTotals sums SI voucher rows for one date.
func (s *Source) saleTotals(ctx context.Context, saleDate string) (model.SalesTotals, error) {
	query := `
	SELECT
		COALESCE(COUNT(*), 0) AS TotalBills,
		COALESCE(SUM(CAST([GrandTotal] AS DECIMAL(18,2))), 0) AS GrossAmount,
		COALESCE(SUM(CAST([VatAmount] AS DECIMAL(18,2))), 0) AS TaxAmount,
		COALESCE(SUM(CAST([TotalDiscount] AS DECIMAL(18,2))), 0) AS DiscountAmount
	FROM [dbo].[InvTransactionMaster]
	WHERE [VoucherType] = @voucherType
	AND CAST([TransactionDate] AS DATE) = @date
	`

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var totals model.SalesTotals
	err := s.conn.QueryRowContext(ctx, query,
		sql.Named("voucherType", voucherSale),
		sql.Named("date", saleDate),
	).Scan(&totals.Bills, &totals.Gross, &totals.Tax, &totals.Discount)
	if err != nil {
		return model.SalesTotals{}, fmt.Errorf("%w: sale totals for %s: %v", ErrSourceUnavailable, saleDate, err)
	}
	return totals, nil
}

// returnTotals sums SR voucher rows for one date.
func (s *Source) returnTotals(ctx context.Context, saleDate string) (model.ReturnTotals, error) {
	query := `
	SELECT
		COALESCE(COUNT(*), 0) AS TotalReturns,
		COALESCE(SUM(CAST([GrandTotal] AS DECIMAL(18,2))), 0) AS ReturnAmount,
		COALESCE(SUM(CAST([VatAmount] AS DECIMAL(18,2))), 0) AS ReturnTax
	FROM [dbo].[InvTransactionMaster]
	WHERE [VoucherType] = @voucherType
	AND CAST([TransactionDate] AS DATE) = @date
	`

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var totals model.ReturnTotals
	err := s.conn.QueryRowContext(ctx, query,
		sql.Named("voucherType", voucherReturn),
		sql.Named("date", saleDate),
	).Scan(&totals.Returns, &totals.Amount, &totals.Tax)
	if err != nil {
		return model.ReturnTotals{}, fmt.Errorf("%w: return totals for %s: %v", ErrSourceUnavailable, saleDate, err)
	}
	return totals, nil
}

// DateRange returns the first and last calendar dates with sale vouchers,
// bounding a historical backfill. Returns ErrNoData when the ERP has no
// sales at all.
func (s *Source) DateRange(ctx context.Context) (first, last string, err error) {
	query := `
	SELECT
		MIN(CAST([TransactionDate] AS DATE)) AS FirstDate,
		MAX(CAST([TransactionDate] AS DATE)) AS LastDate
	FROM [dbo].[InvTransactionMaster]
	WHERE [VoucherType] = @voucherType
	`

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var firstDate, lastDate sql.NullTime
	err = s.conn.QueryRowContext(ctx, query,
		sql.Named("voucherType", voucherSale),
	).Scan(&firstDate, &lastDate)
	if err != nil {
		return "", "", fmt.Errorf("%w: date range: %v", ErrSourceUnavailable, err)
	}
	if !firstDate.Valid || !lastDate.Valid {
		return "", "", ErrNoData
	}

	return firstDate.Time.Format(model.DateLayout), lastDate.Time.Format(model.DateLayout), nil
}
