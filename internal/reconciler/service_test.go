package reconciler

import (
	"context"
	"strings"
	"testing"
	"time"

	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/store"
	rerrors "invoice-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

const statementHeader = "日付,内容,出金金額(円),入金金額(円),残高(円),メモ\n"

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(st, st, nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func seedInvoice(t *testing.T, st *store.SQLiteStore, id, number, customer string, remaining int64, issued time.Time) {
	t.Helper()
	err := st.UpsertInvoices(context.Background(), []*models.Invoice{{
		ID:              id,
		InvoiceNumber:   number,
		CustomerName:    customer,
		TotalAmount:     decimal.NewFromInt(remaining),
		RemainingAmount: decimal.NewFromInt(remaining),
		IssueDate:       issued,
		DueDate:         issued.AddDate(0, 1, 0),
	}})
	if err != nil {
		t.Fatalf("UpsertInvoices: %v", err)
	}
}

func TestImportWithAutoMatchAndConfirm(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	csvText := statementHeader +
		"2024/01/15,ABC CORP TRANSFER,,50000,150000,\n"

	summary, err := svc.Import(ctx, []byte(csvText), ImportOptions{
		BankType:    "auto",
		AutoConfirm: true,
		ConfirmedBy: "importer",
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if summary.Imported != 1 || summary.Matched != 1 || summary.PaymentsCreated != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ErrorCount != 0 {
		t.Errorf("expected no errors, got %v", summary.Errors)
	}

	txs, err := st.ListTransactions(ctx, store.TransactionFilter{BatchID: summary.BatchID})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	tx := txs[0]
	if tx.MatchedInvoiceID != "inv-1" || tx.MatchConfidence != models.MatchConfidenceHigh {
		t.Errorf("expected high-confidence match to inv-1, got %+v", tx)
	}
	if !tx.IsConfirmed || tx.ConfirmedBy != "importer" {
		t.Errorf("expected auto-confirmed transaction, got %+v", tx)
	}

	inv, err := st.GetInvoice(ctx, "inv-1")
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if !inv.RemainingAmount.IsZero() {
		t.Errorf("expected invoice settled, remaining %s", inv.RemainingAmount)
	}

	batch, err := st.GetBatch(ctx, summary.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.MatchedCount != 1 {
		t.Errorf("expected matched count 1 on batch, got %d", batch.MatchedCount)
	}
}

func TestImportAmountMismatchLeavesUnmatched(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	csvText := statementHeader +
		"2024/01/15,ABC CORP TRANSFER,,49000,149000,\n"

	summary, err := svc.Import(ctx, []byte(csvText), ImportOptions{
		BankType:  "sbi",
		AutoMatch: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.Matched != 0 {
		t.Errorf("expected no match for mismatched amount, got %d", summary.Matched)
	}

	txs, _ := st.ListTransactions(ctx, store.TransactionFilter{Status: store.StatusUnmatched})
	if len(txs) != 1 {
		t.Errorf("expected the transaction to stay unmatched, got %d", len(txs))
	}
}

func TestImportOnlyHighConfidence(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Amount matches, name does not, issue date in window: medium.
	seedInvoice(t, st, "inv-1", "INV-001", "Unrelated Customer", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	csvText := statementHeader +
		"2024/01/15,ABC CORP TRANSFER,,50000,150000,\n"

	summary, err := svc.Import(ctx, []byte(csvText), ImportOptions{
		BankType:           "sbi",
		AutoMatch:          true,
		OnlyHighConfidence: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.Matched != 0 {
		t.Errorf("expected medium proposal discarded, got %d matched", summary.Matched)
	}

	// Without the restriction the same statement matches.
	summary, err = svc.Import(ctx, []byte(statementHeader+
		"2024/01/16,ABC CORP TRANSFER,,50000,200000,\n"), ImportOptions{
		BankType:  "sbi",
		AutoMatch: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.Matched != 1 {
		t.Errorf("expected medium match persisted, got %d", summary.Matched)
	}
}

func TestImportReportsRowErrorsAndContinues(t *testing.T) {
	svc, _ := newTestService(t)

	csvText := statementHeader +
		"2024/01/15,GOOD,,50000,150000,\n" +
		"bad-date,BROKEN,,1000,151000,\n"

	summary, err := svc.Import(context.Background(), []byte(csvText), ImportOptions{BankType: "sbi"})
	if err != nil {
		t.Fatalf("row errors must not abort import: %v", err)
	}
	if summary.Imported != 1 || summary.ErrorCount != 1 {
		t.Errorf("expected 1 imported and 1 error, got %+v", summary)
	}
	if summary.TotalRows != 2 {
		t.Errorf("expected 2 source rows, got %d", summary.TotalRows)
	}
}

func TestImportDuplicateReporting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	csvText := statementHeader + "2024/01/15,振込 ヤマダ,,50000,150000,\n"

	if _, err := svc.Import(ctx, []byte(csvText), ImportOptions{BankType: "sbi", SkipDuplicates: true}); err != nil {
		t.Fatalf("first import: %v", err)
	}

	// Silent skip.
	summary, err := svc.Import(ctx, []byte(csvText), ImportOptions{BankType: "sbi", SkipDuplicates: true})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if summary.Duplicates != 1 || summary.ErrorCount != 0 {
		t.Errorf("expected 1 silent duplicate, got %+v", summary)
	}

	// Reported skip.
	summary, err = svc.Import(ctx, []byte(csvText), ImportOptions{BankType: "sbi"})
	if err != nil {
		t.Fatalf("third import: %v", err)
	}
	if summary.Duplicates != 1 || summary.ErrorCount != 1 {
		t.Errorf("expected reported duplicate, got %+v", summary)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "duplicate") {
		t.Errorf("expected duplicate message, got %v", summary.Errors)
	}
}

func TestImportStructuralFailure(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Import(context.Background(), []byte("a,b\n1,2\n"), ImportOptions{BankType: "auto"}); err == nil {
		t.Fatal("expected structural error for undetectable format")
	}
}

func TestConfirmSettlesInvoice(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	summary, err := svc.Import(ctx, []byte(statementHeader+
		"2024/01/15,ABC CORP TRANSFER,,50000,150000,\n"), ImportOptions{
		BankType:  "sbi",
		AutoMatch: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	txs, _ := st.ListTransactions(ctx, store.TransactionFilter{BatchID: summary.BatchID})
	txID := txs[0].ID

	confirmed, err := svc.Confirm(ctx, txID, "operator")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !confirmed.IsConfirmed {
		t.Error("expected confirmed transaction")
	}

	inv, _ := st.GetInvoice(ctx, "inv-1")
	if !inv.RemainingAmount.IsZero() {
		t.Errorf("expected invoice settled, remaining %s", inv.RemainingAmount)
	}

	// Unconfirm reverts the lifecycle but keeps the match.
	reverted, err := svc.Unconfirm(ctx, txID)
	if err != nil {
		t.Fatalf("Unconfirm: %v", err)
	}
	if reverted.IsConfirmed || reverted.MatchedInvoiceID != "inv-1" {
		t.Errorf("unexpected state after unconfirm: %+v", reverted)
	}
}

func TestConfirmRollsBackOnPaymentFailure(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	summary, err := svc.Import(ctx, []byte(statementHeader+
		"2024/01/15,ABC CORP TRANSFER,,50000,150000,\n"), ImportOptions{
		BankType:  "sbi",
		AutoMatch: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	txs, _ := st.ListTransactions(ctx, store.TransactionFilter{BatchID: summary.BatchID})
	txID := txs[0].ID

	// The invoice shrinks between matching and confirmation.
	err = st.ApplyPayment(ctx, &models.PaymentRecord{
		InvoiceID:     "inv-1",
		Amount:        decimal.NewFromInt(30000),
		PaymentDate:   time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		PaymentMethod: models.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}

	if _, err := svc.Confirm(ctx, txID, "operator"); err == nil {
		t.Fatal("expected confirmation to fail when payment exceeds remaining amount")
	}

	// The confirmation must not stick.
	tx, _ := st.GetTransaction(ctx, txID)
	if tx.IsConfirmed {
		t.Error("expected confirmation rolled back after payment failure")
	}
}

func TestRematch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Import before any invoice exists: nothing to match.
	summary, err := svc.Import(ctx, []byte(statementHeader+
		"2024/01/15,ABC CORP TRANSFER,,50000,150000,\n"), ImportOptions{
		BankType:  "sbi",
		AutoMatch: true,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.Matched != 0 {
		t.Fatalf("expected no match yet, got %d", summary.Matched)
	}

	// The invoice arrives later; rematch picks it up.
	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	matched, err := svc.Rematch(ctx, summary.BatchID, false)
	if err != nil {
		t.Fatalf("Rematch: %v", err)
	}
	if matched != 1 {
		t.Errorf("expected 1 match after rematch, got %d", matched)
	}

	if _, err := svc.Rematch(ctx, "no-such-batch", false); !rerrors.IsNotFound(err) {
		t.Errorf("expected not-found for unknown batch, got %v", err)
	}
}

func TestBulkReconciliation(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	issued := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	seedInvoice(t, st, "inv-1", "INV-001", "ABC Corp", 50000, issued)
	seedInvoice(t, st, "inv-2", "INV-002", "XYZ Ltd", 30000, issued)
	seedInvoice(t, st, "inv-3", "INV-003", "DEF Inc", 20000, issued)

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	records := []BulkRecord{
		{InvoiceID: "inv-1", Amount: decimal.NewFromInt(50000), PaymentDate: date, PaymentMethod: "bank_transfer"},
		{InvoiceID: "inv-2", Amount: decimal.NewFromInt(30000), PaymentDate: date, PaymentMethod: ""},
		{InvoiceID: "inv-3", Amount: decimal.NewFromInt(20000), PaymentDate: date, PaymentMethod: "cash"},
	}

	result, err := svc.BulkReconciliation(ctx, records, "batch-operator")
	if err != nil {
		t.Fatalf("BulkReconciliation: %v", err)
	}
	if result.SuccessCount != 2 || result.ErrorCount != 1 {
		t.Fatalf("expected 2 successes and 1 error, got %+v", result)
	}
	if !strings.Contains(result.Errors[0], "record 1") {
		t.Errorf("expected error to name record 1, got %v", result.Errors)
	}

	// The bad record must not have touched its invoice.
	inv2, _ := st.GetInvoice(ctx, "inv-2")
	if inv2.RemainingAmount.String() != "30000" {
		t.Errorf("expected inv-2 untouched, remaining %s", inv2.RemainingAmount)
	}
	inv1, _ := st.GetInvoice(ctx, "inv-1")
	if !inv1.RemainingAmount.IsZero() {
		t.Errorf("expected inv-1 settled, remaining %s", inv1.RemainingAmount)
	}
}
