package erp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aquraretail/erpsync/internal/config"
)

// TestBuildDSN tests connection string construction.
func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(config.ERPConfig{
		Server:         "192.168.0.3",
		Port:           1433,
		Database:       "URBAN2_2025",
		User:           "sa",
		Password:       "p@ss/word",
		ConnectTimeout: 30 * time.Second,
	})

	if !strings.HasPrefix(dsn, "sqlserver://") {
		t.Errorf("dsn = %q, want sqlserver:// scheme", dsn)
	}
	for _, want := range []string{
		"192.168.0.3:1433",
		"database=URBAN2_2025",
		"trustservercertificate=true",
		"sa:",
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn missing %q: %s", want, dsn)
		}
	}
	// Credentials with reserved characters must be escaped, not raw.
	if strings.Contains(dsn, "p@ss/word") {
		t.Errorf("password not escaped in dsn: %s", dsn)
	}
}

// TestExtract_RejectsBadDate tests that malformed dates never reach SQL.
func TestExtract_RejectsBadDate(t *testing.T) {
	s := &Source{branchID: 3, queryTimeout: time.Second}

	for _, bad := range []string{"", "04-11-2025", "2025/11/04", "2025-11-04T00:00:00Z", "yesterday"} {
		if _, err := s.Extract(context.Background(), bad); err == nil {
			t.Errorf("Extract(%q) passed, want error", bad)
		}
	}
}
