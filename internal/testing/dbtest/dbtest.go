// Package dbtest opens an in-memory sqlite database carrying the contract
// billing schema for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

const schema = `
CREATE TABLE contracts (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL UNIQUE,
	plan_tier TEXT NOT NULL,
	seat_limit INTEGER NOT NULL,
	package TEXT NOT NULL DEFAULT 'none',
	base_monthly_fee INTEGER NOT NULL,
	package_monthly_fee INTEGER NOT NULL,
	prorated_charge INTEGER NOT NULL DEFAULT 0,
	prorated_charge_description TEXT,
	total_monthly_fee INTEGER NOT NULL,
	one_time_fee INTEGER NOT NULL DEFAULT 0,
	first_invoice_discount INTEGER NOT NULL DEFAULT 0,
	billing_cycle TEXT NOT NULL,
	billing_day INTEGER NOT NULL,
	billing_mode TEXT NOT NULL DEFAULT 'invoice',
	processor_subscription_id TEXT,
	status TEXT NOT NULL,
	start_date DATETIME NOT NULL,
	plan_change_grace_deadline DATETIME,
	pending_plan_change TEXT,
	pending_effective_date DATETIME,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE contract_packages (
	contract_id INTEGER NOT NULL,
	package_code TEXT NOT NULL,
	created_at DATETIME,
	PRIMARY KEY (contract_id, package_code)
);
CREATE TABLE organization_members (
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME,
	PRIMARY KEY (org_id, user_id)
);
CREATE TABLE plan_change_requests (
	id INTEGER PRIMARY KEY,
	contract_id INTEGER NOT NULL,
	org_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	effective_date DATETIME NOT NULL,
	is_downgrade BOOLEAN NOT NULL,
	processor_managed BOOLEAN NOT NULL,
	payload TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	requested_at DATETIME NOT NULL,
	applied_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE UNIQUE INDEX ux_plan_change_requests_pending ON plan_change_requests (contract_id) WHERE status = 'pending';
CREATE TABLE plan_change_compensations (
	id INTEGER PRIMARY KEY,
	contract_id INTEGER NOT NULL,
	org_id INTEGER NOT NULL,
	change_id INTEGER NOT NULL,
	processor_subscription_id TEXT NOT NULL,
	price_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME,
	resolved_at DATETIME
);
`

// Open returns a private in-memory database. Row locks are stripped because
// sqlite has no SELECT ... FOR UPDATE; the single connection serializes access.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", stripForUpdate)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", stripForUpdate)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func stripForUpdate(d *gorm.DB) {
	sql := d.Statement.SQL.String()
	if !strings.Contains(sql, "FOR UPDATE") {
		return
	}
	sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
	sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
	d.Statement.SQL.Reset()
	d.Statement.SQL.WriteString(sql)
}

// Node returns a snowflake node for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AddMember inserts an organization member row.
func AddMember(t testing.TB, db *gorm.DB, orgID, userID snowflake.ID, role, status string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO organization_members (org_id, user_id, role, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		orgID, userID, role, status, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("insert member: %v", err)
	}
}

// AddActiveMembers inserts n active members with sequential user ids.
func AddActiveMembers(t testing.TB, db *gorm.DB, orgID snowflake.ID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		AddMember(t, db, orgID, snowflake.ID(1_000_000+i), "member", "active")
	}
}
