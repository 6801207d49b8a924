package store

import (
	"context"
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
	rerrors "invoice-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testTransaction(content string, amount int64) *models.BankTransaction {
	return &models.BankTransaction{
		Date:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Content: content,
		Amount:  decimal.NewFromInt(amount),
		Type:    models.TransactionTypeDeposit,
	}
}

func importTestBatch(t *testing.T, s *SQLiteStore, txs ...*models.BankTransaction) *models.ImportBatch {
	t.Helper()
	batch := &models.ImportBatch{BankType: "sbi", SourceRowCount: len(txs)}
	if err := s.RecordImportBatch(context.Background(), batch, txs); err != nil {
		t.Fatalf("RecordImportBatch: %v", err)
	}
	return batch
}

func TestRecordImportBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := importTestBatch(t, s,
		testTransaction("振込 ヤマダ", 50000),
		testTransaction("振込 タナカ", 30000),
	)

	if batch.SuccessCount != 2 || batch.DuplicateCount != 0 {
		t.Errorf("unexpected counts: success=%d duplicates=%d",
			batch.SuccessCount, batch.DuplicateCount)
	}
	if batch.Status != models.BatchStatusCompleted {
		t.Errorf("expected completed, got %s", batch.Status)
	}

	stored, err := s.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if stored.SuccessCount != 2 || stored.Status != models.BatchStatusCompleted {
		t.Errorf("persisted batch diverges: %+v", stored)
	}

	txs, err := s.ListTransactions(ctx, TransactionFilter{BatchID: batch.ID})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.BatchID != batch.ID {
			t.Errorf("transaction not linked to batch: %+v", tx)
		}
	}

	batches, err := s.ListBatches(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != batch.ID {
		t.Errorf("expected the stored batch, got %+v", batches)
	}
}

func TestImportSkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	importTestBatch(t, s, testTransaction("振込 ヤマダ", 50000))

	// Same row re-imported plus one new row.
	second := importTestBatch(t, s,
		testTransaction("振込 ヤマダ", 50000),
		testTransaction("振込 サトウ", 20000),
	)

	if second.DuplicateCount != 1 || second.SuccessCount != 1 {
		t.Errorf("expected 1 duplicate and 1 stored, got %d/%d",
			second.DuplicateCount, second.SuccessCount)
	}

	all, err := s.ListTransactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 distinct transactions across batches, got %d", len(all))
	}
}

func TestImportSkipsDuplicateReferenceNumbers(t *testing.T) {
	s := newTestStore(t)

	first := testTransaction("振込 ヤマダ 1234567", 50000)
	first.ReferenceNumber = "1234567"
	importTestBatch(t, s, first)

	// Different date and content, same bank reference number.
	second := testTransaction("ヤマダショウジ 1234567", 50000)
	second.Date = second.Date.AddDate(0, 0, 1)
	second.ReferenceNumber = "1234567"

	batch := importTestBatch(t, s, second)
	if batch.DuplicateCount != 1 || batch.SuccessCount != 0 {
		t.Errorf("expected reference-number duplicate skipped, got %+v", batch)
	}
}

func TestBatchStatusReflectsErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	partial := &models.ImportBatch{BankType: "sbi", SourceRowCount: 3, ErrorCount: 1}
	if err := s.RecordImportBatch(ctx, partial, []*models.BankTransaction{
		testTransaction("振込 ヤマダ", 50000),
		testTransaction("振込 タナカ", 30000),
	}); err != nil {
		t.Fatalf("RecordImportBatch: %v", err)
	}
	if partial.Status != models.BatchStatusPartial {
		t.Errorf("expected partial, got %s", partial.Status)
	}

	failed := &models.ImportBatch{BankType: "sbi", SourceRowCount: 2, ErrorCount: 2}
	if err := s.RecordImportBatch(ctx, failed, nil); err != nil {
		t.Fatalf("RecordImportBatch: %v", err)
	}
	if failed.Status != models.BatchStatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
}

func TestMatchLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := importTestBatch(t, s, testTransaction("振込 ヤマダ", 50000))
	txs, _ := s.ListTransactions(ctx, TransactionFilter{BatchID: batch.ID})
	txID := txs[0].ID

	// unmatched: confirming is an invalid state transition.
	if _, err := s.ConfirmTransaction(ctx, txID, "operator"); !rerrors.IsInvalidState(err) {
		t.Fatalf("expected invalid-state error for unmatched confirm, got %v", err)
	}

	// unmatched -> matched
	err := s.UpdateTransactionMatch(ctx, txID, &models.MatchCandidate{
		InvoiceID:  "inv-1",
		Confidence: models.MatchConfidenceHigh,
		Reason:     "amount and customer name match",
	})
	if err != nil {
		t.Fatalf("UpdateTransactionMatch: %v", err)
	}

	// matched -> confirmed
	confirmed, err := s.ConfirmTransaction(ctx, txID, "operator")
	if err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	if !confirmed.IsConfirmed || confirmed.ConfirmedBy != "operator" || confirmed.ConfirmedAt == nil {
		t.Errorf("confirmation fields not set: %+v", confirmed)
	}

	// Double confirm is rejected.
	if _, err := s.ConfirmTransaction(ctx, txID, "operator"); !rerrors.IsInvalidState(err) {
		t.Errorf("expected invalid-state error for double confirm, got %v", err)
	}

	// Cancelling a confirmed match is rejected.
	if _, err := s.CancelMatch(ctx, txID); !rerrors.IsInvalidState(err) {
		t.Errorf("expected invalid-state error for cancel while confirmed, got %v", err)
	}

	// Re-matching a confirmed transaction is rejected.
	err = s.UpdateTransactionMatch(ctx, txID, &models.MatchCandidate{
		InvoiceID: "inv-2", Confidence: models.MatchConfidenceLow,
	})
	if !rerrors.IsInvalidState(err) {
		t.Errorf("expected invalid-state error for re-match while confirmed, got %v", err)
	}

	// confirmed -> matched: the match survives, the confirmation does not.
	reverted, err := s.UnconfirmTransaction(ctx, txID)
	if err != nil {
		t.Fatalf("UnconfirmTransaction: %v", err)
	}
	if reverted.IsConfirmed || reverted.ConfirmedAt != nil {
		t.Errorf("expected confirmation cleared: %+v", reverted)
	}
	if reverted.MatchedInvoiceID != "inv-1" || reverted.MatchConfidence != models.MatchConfidenceHigh {
		t.Errorf("expected match to survive unconfirm: %+v", reverted)
	}

	// Unconfirming twice is rejected.
	if _, err := s.UnconfirmTransaction(ctx, txID); !rerrors.IsInvalidState(err) {
		t.Errorf("expected invalid-state error for double unconfirm, got %v", err)
	}

	// matched -> unmatched
	cleared, err := s.CancelMatch(ctx, txID)
	if err != nil {
		t.Fatalf("CancelMatch: %v", err)
	}
	if cleared.HasActiveMatch() || cleared.MatchedInvoiceID != "" {
		t.Errorf("expected match cleared: %+v", cleared)
	}

	// Cancelling with no match is rejected.
	if _, err := s.CancelMatch(ctx, txID); !rerrors.IsInvalidState(err) {
		t.Errorf("expected invalid-state error for cancel without match, got %v", err)
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetTransaction(ctx, "no-such-tx"); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for transaction, got %v", err)
	}
	if _, err := s.GetBatch(ctx, "no-such-batch"); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for batch, got %v", err)
	}
	if _, err := s.GetInvoice(ctx, "no-such-invoice"); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for invoice, got %v", err)
	}
	if _, err := s.ConfirmTransaction(ctx, "no-such-tx", "operator"); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for confirm, got %v", err)
	}
	if _, err := s.PurgeBatch(ctx, "no-such-batch"); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for purge, got %v", err)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := importTestBatch(t, s,
		testTransaction("振込 ヤマダ", 50000),
		testTransaction("振込 タナカ", 30000),
		testTransaction("振込 サトウ", 20000),
	)
	txs, _ := s.ListTransactions(ctx, TransactionFilter{BatchID: batch.ID})

	// Match one, confirm another.
	candidate := &models.MatchCandidate{InvoiceID: "inv-1", Confidence: models.MatchConfidenceLow}
	if err := s.UpdateTransactionMatch(ctx, txs[0].ID, candidate); err != nil {
		t.Fatalf("UpdateTransactionMatch: %v", err)
	}
	if err := s.UpdateTransactionMatch(ctx, txs[1].ID, candidate); err != nil {
		t.Fatalf("UpdateTransactionMatch: %v", err)
	}
	if _, err := s.ConfirmTransaction(ctx, txs[1].ID, "operator"); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}

	counts := map[TransactionStatus]int{
		StatusUnmatched: 1,
		StatusMatched:   1,
		StatusConfirmed: 1,
		StatusAny:       3,
	}
	for status, want := range counts {
		got, err := s.ListTransactions(ctx, TransactionFilter{Status: status})
		if err != nil {
			t.Fatalf("ListTransactions(%s): %v", status, err)
		}
		if len(got) != want {
			t.Errorf("status %q: expected %d transactions, got %d", status, want, len(got))
		}
	}

	limited, err := s.ListTransactions(ctx, TransactionFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListTransactions limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 with limit, got %d", len(limited))
	}

	// The total count ignores pagination.
	total, err := s.CountTransactions(ctx, TransactionFilter{Limit: 2})
	if err != nil {
		t.Fatalf("CountTransactions: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	matchedTotal, err := s.CountTransactions(ctx, TransactionFilter{Status: StatusMatched})
	if err != nil {
		t.Fatalf("CountTransactions matched: %v", err)
	}
	if matchedTotal != 1 {
		t.Errorf("expected 1 matched, got %d", matchedTotal)
	}

	byBank, err := s.ListTransactions(ctx, TransactionFilter{BankType: "mufg"})
	if err != nil {
		t.Fatalf("ListTransactions bank: %v", err)
	}
	if len(byBank) != 0 {
		t.Errorf("expected no mufg transactions, got %d", len(byBank))
	}
}

func TestPurgeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := importTestBatch(t, s,
		testTransaction("振込 ヤマダ", 50000),
		testTransaction("振込 タナカ", 30000),
	)

	removed, err := s.PurgeBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("PurgeBatch: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	if _, err := s.GetBatch(ctx, batch.ID); !rerrors.IsNotFound(err) {
		t.Errorf("expected batch gone, got %v", err)
	}
	left, _ := s.ListTransactions(ctx, TransactionFilter{})
	if len(left) != 0 {
		t.Errorf("expected no transactions left, got %d", len(left))
	}
}

func TestInvoiceLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issued := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	invoices := []*models.Invoice{
		{
			ID: "inv-1", InvoiceNumber: "INV-001", CustomerName: "ABC Corp",
			TotalAmount: decimal.NewFromInt(50000), RemainingAmount: decimal.NewFromInt(50000),
			IssueDate: issued, DueDate: issued.AddDate(0, 1, 0),
		},
		{
			ID: "inv-2", InvoiceNumber: "INV-002", CustomerName: "XYZ Ltd",
			TotalAmount: decimal.NewFromInt(30000), RemainingAmount: decimal.Zero,
			IssueDate: issued, DueDate: issued.AddDate(0, 1, 0),
		},
	}
	if err := s.UpsertInvoices(ctx, invoices); err != nil {
		t.Fatalf("UpsertInvoices: %v", err)
	}

	open, err := s.ListOpenInvoices(ctx)
	if err != nil {
		t.Fatalf("ListOpenInvoices: %v", err)
	}
	if len(open) != 1 || open[0].ID != "inv-1" {
		t.Fatalf("expected only inv-1 open, got %+v", open)
	}

	payment := &models.PaymentRecord{
		InvoiceID:     "inv-1",
		Amount:        decimal.NewFromInt(50000),
		PaymentDate:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		PaymentMethod: models.PaymentMethodBankTransfer,
	}
	if err := s.ApplyPayment(ctx, payment); err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	settled, err := s.GetInvoice(ctx, "inv-1")
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if !settled.RemainingAmount.IsZero() {
		t.Errorf("expected zero remaining, got %s", settled.RemainingAmount)
	}

	// Settled invoice leaves the open pool.
	open, _ = s.ListOpenInvoices(ctx)
	if len(open) != 0 {
		t.Errorf("expected no open invoices, got %d", len(open))
	}

	// Overpayment is rejected.
	over := &models.PaymentRecord{
		InvoiceID:     "inv-1",
		Amount:        decimal.NewFromInt(1),
		PaymentDate:   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
		PaymentMethod: models.PaymentMethodBankTransfer,
	}
	if err := s.ApplyPayment(ctx, over); !rerrors.IsValidation(err) {
		t.Errorf("expected validation error for overpayment, got %v", err)
	}
}

func TestUpsertInvoicesRefreshesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issued := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	inv := &models.Invoice{
		ID: "inv-1", InvoiceNumber: "INV-001", CustomerName: "ABC Corp",
		TotalAmount: decimal.NewFromInt(50000), RemainingAmount: decimal.NewFromInt(50000),
		IssueDate: issued, DueDate: issued.AddDate(0, 1, 0),
	}
	if err := s.UpsertInvoices(ctx, []*models.Invoice{inv}); err != nil {
		t.Fatalf("UpsertInvoices: %v", err)
	}

	inv.CustomerName = "ABC Corporation"
	inv.RemainingAmount = decimal.NewFromInt(25000)
	if err := s.UpsertInvoices(ctx, []*models.Invoice{inv}); err != nil {
		t.Fatalf("UpsertInvoices update: %v", err)
	}

	got, err := s.GetInvoice(ctx, "inv-1")
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.CustomerName != "ABC Corporation" || got.RemainingAmount.String() != "25000" {
		t.Errorf("upsert did not refresh: %+v", got)
	}
}
