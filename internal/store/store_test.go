package store

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newMockStore builds a store over a sqlmock connection. The sqlx
// wrapper is registered as postgres so Rebind produces $n placeholders.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return &Store{db: sqlx.NewDb(mockDB, "postgres"), logger: zap.NewNop()}, mock
}

func TestChunkInt64(t *testing.T) {
	ids := make([]int64, 1101)
	for i := range ids {
		ids[i] = int64(i)
	}

	chunks := chunkInt64(ids, 500)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 500)
	require.Len(t, chunks[1], 500)
	require.Len(t, chunks[2], 101)

	require.Nil(t, chunkInt64(nil, 500))
	require.Len(t, chunkInt64(ids[:3], 0), 1)
}
