package postgres

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/stake?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "stake", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss@db:6432/stake?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "stake", User: "u", Password: "p@ss", SSLMode: "require"}))
}

func TestPendingMigrations(t *testing.T) {
	names := []string{"001_init.sql", "002_index.sql", "003_more.sql"}
	assert.Equal(t, []string{"002_index.sql", "003_more.sql"}, pending(names, []string{"001_init.sql"}))
	assert.Empty(t, pending(names, names))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])
	assert.IsIncreasing(t, names)
}

func TestAppendPage(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := appendPage("SELECT 1 FROM operations WHERE wallet = $1", []any{"0xabc"}, domain.ListOpts{
		Since: &since, Limit: 10, Offset: 20,
	})
	assert.Equal(t, "SELECT 1 FROM operations WHERE wallet = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"0xabc", since, 10, 20}, args)

	q, args = appendPage("SELECT 1 FROM audit_log WHERE 1=1", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT 1 FROM audit_log WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}

func TestAmountText(t *testing.T) {
	assert.Nil(t, amountText(nil))
	s := amountText(big.NewInt(158))
	require.NotNil(t, s)
	assert.Equal(t, "158", *s)
	assert.Equal(t, "158", parseAmount(s).String())
	bad := "1.5"
	assert.Nil(t, parseAmount(&bad))
}

func TestAuditQuery(t *testing.T) {
	q, args := auditQuery(domain.AuditQuery{EventPrefix: "operation.", ListOpts: domain.ListOpts{Limit: 5}})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND event LIKE $1 ORDER BY created_at DESC LIMIT $2", q)
	assert.Equal(t, []any{"operation.%", 5}, args)

	q, args = auditQuery(domain.AuditQuery{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}

func TestLikePrefixEscapes(t *testing.T) {
	assert.Equal(t, `creator\_refund%`, likePrefix("creator_refund"))
	assert.Equal(t, `100\%%`, likePrefix("100%"))
}
