package transaction

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sushant-115/pagedb/core/dberror"
)

// TransactionState is the lifecycle state of a write transaction.
type TransactionState int

const (
	TxnStateRunning    TransactionState = iota // callback is staging pages
	TxnStateCommitted                          // staged pages and header written
	TxnStateRolledBack                         // staged state discarded on request
	TxnStateFailed                             // callback or commit returned an error
)

func (s TransactionState) String() string {
	switch s {
	case TxnStateRunning:
		return "running"
	case TxnStateCommitted:
		return "committed"
	case TxnStateRolledBack:
		return "rolled-back"
	case TxnStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TransactionState(%d)", int(s))
	}
}

// Transaction carries the identity and state of one write transaction.
type Transaction struct {
	ID      string
	Version uint64
	State   TransactionState
}

// New starts a running transaction with a fresh id.
func New(version uint64) *Transaction {
	return &Transaction{
		ID:      uuid.New().String(),
		Version: version,
		State:   TxnStateRunning,
	}
}

// CheckRunning fails once the transaction has finished.
func (t *Transaction) CheckRunning() error {
	if t.State != TxnStateRunning {
		return fmt.Errorf("%w: transaction %s is %s", dberror.ErrTxnInvalidState, t.ID, t.State)
	}
	return nil
}

// Finish moves a running transaction to a terminal state.
func (t *Transaction) Finish(state TransactionState) error {
	if err := t.CheckRunning(); err != nil {
		return err
	}
	if state == TxnStateRunning {
		return fmt.Errorf("%w: cannot finish into %s", dberror.ErrTxnInvalidState, state)
	}
	t.State = state
	return nil
}
