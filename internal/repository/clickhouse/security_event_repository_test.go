package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/models"
)

type fakeConn struct {
	execs   []string
	queries []string
	rows    [][]interface{}
	err     error
}

func (f *fakeConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.execs = append(f.execs, query)
	return f.err
}

func (f *fakeConn) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	f.queries = append(f.queries, query)
	f.rows = append(f.rows, rows...)
	return f.err
}

func TestRecordSecurityEventWritesOneRow(t *testing.T) {
	conn := &fakeConn{}
	repo := NewSecurityEventRepository(conn)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], "CREATE TABLE IF NOT EXISTS security_events")

	at := time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC)
	err := repo.RecordSecurityEvent(context.Background(), models.SecurityEvent{
		EventBucket: 7,
		IdentityID:  "identity-1",
		Subject:     "alice@example.com",
		EventDate:   "2026-05-04",
		EventTime:   at,
		EventType:   models.SecurityEventLoginFailure,
		IPAddress:   "10.0.0.1",
	})
	require.NoError(t, err)

	require.Len(t, conn.rows, 1)
	row := conn.rows[0]
	assert.Equal(t, uint16(7), row[0])
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), row[3])
	assert.Equal(t, "login_failure", row[5])
}

func TestRecordSecurityEventWrapsErrors(t *testing.T) {
	repo := NewSecurityEventRepository(&fakeConn{err: errors.New("connection reset")})
	err := repo.RecordSecurityEvent(context.Background(), models.SecurityEvent{EventTime: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
