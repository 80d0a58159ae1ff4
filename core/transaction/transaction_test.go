package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagedb/core/dberror"
)

func TestTransactionLifecycle(t *testing.T) {
	a, b := New(7), New(7)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint64(7), a.Version)
	require.NoError(t, a.CheckRunning())

	require.NoError(t, a.Finish(TxnStateCommitted))
	assert.Equal(t, "committed", a.State.String())
	assert.ErrorIs(t, a.CheckRunning(), dberror.ErrTxnInvalidState)
	assert.ErrorIs(t, a.Finish(TxnStateFailed), dberror.ErrTxnInvalidState)
	assert.Equal(t, TxnStateCommitted, a.State)
}

func TestFinishNeedsTerminalState(t *testing.T) {
	txn := New(1)
	assert.ErrorIs(t, txn.Finish(TxnStateRunning), dberror.ErrTxnInvalidState)
	require.NoError(t, txn.Finish(TxnStateRolledBack))
	assert.Equal(t, "rolled-back", txn.State.String())
	assert.Equal(t, "TransactionState(9)", TransactionState(9).String())
}
