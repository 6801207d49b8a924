// Package store persists reconciliation state in SQLite.
//
// Two interfaces split the surface: TransactionStore owns import
// batches and the transaction match lifecycle, InvoiceStore exposes
// the invoice ledger the matcher reads and payments write to. The
// SQLite implementation backs both.
package store

import (
	"context"
	"time"

	"invoice-reconciliation-service/internal/models"
)

// TransactionFilter narrows ListTransactions results. Zero values
// mean "no constraint"; Limit <= 0 means no limit.
type TransactionFilter struct {
	BatchID    string
	BankType   string
	Status     TransactionStatus
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// TransactionStatus is the lifecycle position used for filtering.
type TransactionStatus string

const (
	StatusAny       TransactionStatus = ""
	StatusUnmatched TransactionStatus = "unmatched"
	StatusMatched   TransactionStatus = "matched"
	StatusConfirmed TransactionStatus = "confirmed"
)

// TransactionStore persists import batches and transactions and
// drives the match lifecycle.
type TransactionStore interface {
	// RecordImportBatch stores a batch and its transactions in one
	// database transaction. Transactions whose content hash already
	// exists are skipped and counted as duplicates; the batch record
	// is updated with the final counts and status.
	RecordImportBatch(ctx context.Context, batch *models.ImportBatch, txs []*models.BankTransaction) error

	GetBatch(ctx context.Context, id string) (*models.ImportBatch, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*models.ImportBatch, error)

	GetTransaction(ctx context.Context, id string) (*models.BankTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.BankTransaction, error)

	// CountTransactions returns the number of transactions matching the
	// filter, ignoring Limit and Offset.
	CountTransactions(ctx context.Context, filter TransactionFilter) (int, error)

	// UpdateTransactionMatch records or replaces the proposed match on
	// an unconfirmed transaction.
	UpdateTransactionMatch(ctx context.Context, txID string, candidate *models.MatchCandidate) error

	// ConfirmTransaction moves a matched transaction to confirmed.
	ConfirmTransaction(ctx context.Context, txID, confirmedBy string) (*models.BankTransaction, error)

	// UnconfirmTransaction reverts a confirmed transaction to matched.
	UnconfirmTransaction(ctx context.Context, txID string) (*models.BankTransaction, error)

	// CancelMatch clears the proposed match on an unconfirmed
	// transaction, returning it to unmatched.
	CancelMatch(ctx context.Context, txID string) (*models.BankTransaction, error)

	// SetBatchMatchedCount records how many of a batch's transactions
	// received a match.
	SetBatchMatchedCount(ctx context.Context, batchID string, matched int) error

	// PurgeBatch deletes a batch and all of its transactions.
	PurgeBatch(ctx context.Context, batchID string) (int64, error)
}

// InvoiceStore exposes the invoice ledger.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	ListOpenInvoices(ctx context.Context) ([]*models.Invoice, error)

	// UpsertInvoices loads or refreshes invoice records from the
	// upstream invoice system.
	UpsertInvoices(ctx context.Context, invoices []*models.Invoice) error

	// ApplyPayment records a payment and decrements the invoice's
	// remaining amount.
	ApplyPayment(ctx context.Context, record *models.PaymentRecord) error
}
