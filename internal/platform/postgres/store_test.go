package postgres

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPostgresTaskStorePanicsOnNilDB(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewPostgresTaskStore(nil, nil)
	})
}

func TestNewPostgresWorkerStorePanicsOnNilDB(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewPostgresWorkerStore(nil, nil)
	})
}

func TestWithTxReturnsTransactionScopedStore(t *testing.T) {
	t.Parallel()

	db := &sql.DB{}
	taskStore := NewPostgresTaskStore(db, nil)
	workerStore := NewPostgresWorkerStore(db, nil)

	var tx sql.Tx
	scopedTasks := taskStore.WithTx(&tx)
	scopedWorkers := workerStore.WithTx(&tx)

	assert.NotSame(t, taskStore, scopedTasks)
	assert.NotSame(t, workerStore, scopedWorkers)
}

func TestNullableHelpers(t *testing.T) {
	t.Parallel()

	assert.Nil(t, nullableJSON(nil))
	assert.Equal(t, []byte(`{"a":1}`), nullableJSON([]byte(`{"a":1}`)))

	assert.Nil(t, nullableString(""))
	assert.Equal(t, "boom", nullableString("boom"))
}
