// Package reconciler orchestrates the import pipeline: decode and
// parse a statement, persist the batch, match deposits against open
// invoices, and settle confirmed matches as payments.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"invoice-reconciliation-service/internal/matcher"
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/internal/parsers"
	"invoice-reconciliation-service/internal/store"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ImportOptions controls one import run.
type ImportOptions struct {
	// BankType selects the statement format; "auto" or "" detects it
	// from the header.
	BankType string
	// FileName is recorded on the batch for audit purposes.
	FileName string

	// AutoMatch matches imported deposits against open invoices and
	// persists the proposed matches.
	AutoMatch bool
	// AutoConfirm additionally confirms high-confidence matches and
	// settles them as payments. Implies AutoMatch.
	AutoConfirm bool
	// OnlyHighConfidence restricts persisted matches to the high tier;
	// medium and low proposals are discarded.
	OnlyHighConfidence bool
	// SkipDuplicates silently drops rows already present in the store.
	// When false, duplicates are reported in the summary errors.
	SkipDuplicates bool
	// ConfirmedBy is the audit identity for auto-confirmed matches.
	ConfirmedBy string
}

// ImportSummary reports the outcome of one import run.
type ImportSummary struct {
	BatchID         string   `json:"batchId"`
	BankType        string   `json:"bankType"`
	TotalRows       int      `json:"totalRows"`
	Imported        int      `json:"imported"`
	Deposits        int      `json:"deposits"`
	Withdrawals     int      `json:"withdrawals"`
	Duplicates      int      `json:"duplicates"`
	Matched         int      `json:"matched"`
	PaymentsCreated int      `json:"paymentsCreated"`
	ErrorCount      int      `json:"errorCount"`
	Errors          []string `json:"errors,omitempty"`
}

// BulkResult reports the outcome of a bulk reconciliation run.
type BulkResult struct {
	SuccessCount int      `json:"successCount"`
	ErrorCount   int      `json:"errorCount"`
	Errors       []string `json:"errors,omitempty"`
}

// Service wires the parser, matcher, and stores together.
type Service struct {
	parser   *parsers.Parser
	matcher  *matcher.Matcher
	txStore  store.TransactionStore
	invStore store.InvoiceStore
	logger   logger.Logger
}

// NewService creates the orchestration service. A nil matcher config
// selects the default configuration.
func NewService(txStore store.TransactionStore, invStore store.InvoiceStore, matcherConfig *matcher.Config, log logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	m, err := matcher.NewMatcher(matcherConfig, log)
	if err != nil {
		return nil, err
	}
	return &Service{
		parser:   parsers.NewParser(log),
		matcher:  m,
		txStore:  txStore,
		invStore: invStore,
		logger:   log.WithComponent("reconciler"),
	}, nil
}

// Import runs the full pipeline on one raw statement payload.
//
// Row-level failures never abort the run; they are reported in the
// summary. A structural failure (undecodable payload, unknown bank,
// store breakage) aborts with an error.
func (s *Service) Import(ctx context.Context, payload []byte, opts ImportOptions) (*ImportSummary, error) {
	parsed, err := s.parser.Parse(payload, opts.BankType)
	if err != nil {
		return nil, err
	}

	batch := &models.ImportBatch{
		BankType:       parsed.BankType,
		FileName:       opts.FileName,
		SourceRowCount: parsed.TotalCount + len(parsed.Errors),
		ErrorCount:     len(parsed.Errors),
	}
	if err := s.txStore.RecordImportBatch(ctx, batch, parsed.Transactions); err != nil {
		return nil, err
	}

	summary := &ImportSummary{
		BatchID:     batch.ID,
		BankType:    parsed.BankType,
		TotalRows:   batch.SourceRowCount,
		Imported:    batch.SuccessCount,
		Deposits:    parsed.DepositCount,
		Withdrawals: parsed.WithdrawalCount,
		Duplicates:  batch.DuplicateCount,
	}
	summary.Errors = parsed.Errors.Messages()

	if !opts.SkipDuplicates {
		// Duplicates were not stored; surface them so the caller can
		// see which rows the statement shares with earlier imports.
		for _, tx := range parsed.Transactions {
			if tx.ID == "" {
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("duplicate transaction on %s: %s %s",
						tx.Date.Format("2006-01-02"), tx.Content, tx.Amount))
			}
		}
	}

	if opts.AutoMatch || opts.AutoConfirm {
		if err := s.autoMatch(ctx, batch.ID, summary, opts); err != nil {
			return nil, err
		}
	}

	summary.ErrorCount = len(summary.Errors)
	s.logger.WithFields(logger.Fields{
		"batch_id":   summary.BatchID,
		"imported":   summary.Imported,
		"duplicates": summary.Duplicates,
		"matched":    summary.Matched,
		"payments":   summary.PaymentsCreated,
		"errors":     summary.ErrorCount,
	}).Info("Import completed")
	return summary, nil
}

// autoMatch matches the batch's deposits against open invoices,
// persists qualifying proposals, and optionally settles them.
func (s *Service) autoMatch(ctx context.Context, batchID string, summary *ImportSummary, opts ImportOptions) error {
	invoices, err := s.invStore.ListOpenInvoices(ctx)
	if err != nil {
		return err
	}
	txs, err := s.txStore.ListTransactions(ctx, store.TransactionFilter{BatchID: batchID})
	if err != nil {
		return err
	}

	for _, tx := range txs {
		if !tx.IsDeposit() || tx.IsConfirmed {
			continue
		}

		candidate := s.matcher.Match(tx, invoices)
		if candidate.Confidence == models.MatchConfidenceNone {
			continue
		}
		if opts.OnlyHighConfidence && candidate.Confidence != models.MatchConfidenceHigh {
			continue
		}

		if err := s.txStore.UpdateTransactionMatch(ctx, tx.ID, candidate); err != nil {
			return err
		}
		summary.Matched++

		if opts.AutoConfirm && candidate.Confidence == models.MatchConfidenceHigh {
			if err := s.settle(ctx, tx.ID, opts.ConfirmedBy); err != nil {
				// A settlement failure (the invoice changed underneath
				// us) degrades to a reported error for this row.
				summary.Errors = append(summary.Errors,
					fmt.Sprintf("auto-confirm failed for transaction %s: %v", tx.ID, err))
				continue
			}
			summary.PaymentsCreated++

			// The invoice pool changed; refresh so later deposits do
			// not match the invoice just settled.
			if invoices, err = s.invStore.ListOpenInvoices(ctx); err != nil {
				return err
			}
		}
	}

	return s.txStore.SetBatchMatchedCount(ctx, batchID, summary.Matched)
}

// Confirm confirms a matched transaction and settles the matched
// invoice with a payment record.
func (s *Service) Confirm(ctx context.Context, txID, confirmedBy string) (*models.BankTransaction, error) {
	if err := s.settle(ctx, txID, confirmedBy); err != nil {
		return nil, err
	}
	return s.txStore.GetTransaction(ctx, txID)
}

// settle confirms the transaction and applies the payment. If the
// payment cannot be applied the confirmation is rolled back.
func (s *Service) settle(ctx context.Context, txID, confirmedBy string) error {
	tx, err := s.txStore.ConfirmTransaction(ctx, txID, confirmedBy)
	if err != nil {
		return err
	}

	record := &models.PaymentRecord{
		InvoiceID:     tx.MatchedInvoiceID,
		Amount:        tx.AbsoluteAmount(),
		PaymentDate:   tx.Date,
		PaymentMethod: models.PaymentMethodBankTransfer,
		Notes:         fmt.Sprintf("bank transaction %s", tx.ID),
		Status:        models.PaymentStatusConfirmed,
		ConfirmedBy:   confirmedBy,
		ConfirmedAt:   tx.ConfirmedAt,
	}
	if err := s.invStore.ApplyPayment(ctx, record); err != nil {
		if _, revertErr := s.txStore.UnconfirmTransaction(ctx, txID); revertErr != nil {
			s.logger.WithError(revertErr).WithField("transaction_id", txID).
				Error("Failed to revert confirmation after payment failure")
		}
		return err
	}
	return nil
}

// Unconfirm reverts a confirmed transaction to matched. The payment
// ledger is append-only; reversing the settled amount is a manual
// correction on the invoice side.
func (s *Service) Unconfirm(ctx context.Context, txID string) (*models.BankTransaction, error) {
	tx, err := s.txStore.UnconfirmTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("transaction_id", txID).Info("Reverted confirmation")
	return tx, nil
}

// CancelMatch clears the proposed match on an unconfirmed transaction.
func (s *Service) CancelMatch(ctx context.Context, txID string) (*models.BankTransaction, error) {
	return s.txStore.CancelMatch(ctx, txID)
}

// ListImported returns transactions matching the filter.
func (s *Service) ListImported(ctx context.Context, filter store.TransactionFilter) ([]*models.BankTransaction, error) {
	return s.txStore.ListTransactions(ctx, filter)
}

// CountImported returns the total number of transactions matching the
// filter, ignoring pagination.
func (s *Service) CountImported(ctx context.Context, filter store.TransactionFilter) (int, error) {
	return s.txStore.CountTransactions(ctx, filter)
}

// Rematch re-runs matching for the given batch against the current
// invoice pool, replacing unconfirmed proposals.
func (s *Service) Rematch(ctx context.Context, batchID string, onlyHighConfidence bool) (int, error) {
	if _, err := s.txStore.GetBatch(ctx, batchID); err != nil {
		return 0, err
	}

	summary := &ImportSummary{}
	opts := ImportOptions{OnlyHighConfidence: onlyHighConfidence}
	if err := s.autoMatch(ctx, batchID, summary, opts); err != nil {
		return 0, err
	}
	return summary.Matched, nil
}

// BulkRecord is one externally supplied payment to reconcile.
type BulkRecord struct {
	InvoiceID     string          `json:"invoiceId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"paymentDate"`
	PaymentMethod string          `json:"paymentMethod"`
	Notes         string          `json:"notes,omitempty"`
}

// BulkReconciliation applies externally supplied payments as confirmed
// payment records. Records are validated and applied independently;
// one bad record never blocks the rest.
func (s *Service) BulkReconciliation(ctx context.Context, records []BulkRecord, confirmedBy string) (*BulkResult, error) {
	result := &BulkResult{}
	now := time.Now().UTC()

	for i, rec := range records {
		payment := &models.PaymentRecord{
			InvoiceID:     rec.InvoiceID,
			Amount:        rec.Amount,
			PaymentDate:   rec.PaymentDate,
			PaymentMethod: models.PaymentMethod(rec.PaymentMethod),
			Notes:         rec.Notes,
			Status:        models.PaymentStatusConfirmed,
			ConfirmedBy:   confirmedBy,
			ConfirmedAt:   &now,
		}
		if err := payment.Validate(); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		if err := s.invStore.ApplyPayment(ctx, payment); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors,
				fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		result.SuccessCount++
	}

	s.logger.WithFields(logger.Fields{
		"success": result.SuccessCount,
		"errors":  result.ErrorCount,
	}).Info("Bulk reconciliation completed")
	return result, nil
}
