package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"invoice-reconciliation-service/internal/models"
	rerrors "invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339

// SQLiteStore implements TransactionStore and InvoiceStore on a
// single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

var (
	_ TransactionStore = (*SQLiteStore)(nil)
	_ InvoiceStore     = (*SQLiteStore)(nil)
)

// Open opens (creating if needed) the SQLite database at dsn and runs
// pending migrations. Use ":memory:" for an ephemeral store.
func Open(dsn string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("sqlite_store")

	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeStoreUnavailable, "open", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// table-locked errors under concurrent use and keeps :memory:
	// databases on one backing store.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, rerrors.StoreError(rerrors.CodeStoreUnavailable, "ping", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("dsn", dsn).Debug("Opened reconciliation store")
	return &SQLiteStore{db: db, logger: log}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return rerrors.StoreError(rerrors.CodeMigrationFailed, "load migrations", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return rerrors.StoreError(rerrors.CodeMigrationFailed, "migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeMigrationFailed, "migration setup", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return rerrors.StoreError(rerrors.CodeMigrationFailed, "migrate up", err)
	}
	return nil
}

// RecordImportBatch stores the batch and its transactions atomically.
// Duplicate transactions (same content hash as an existing row) are
// skipped; the batch's counts and status reflect the final outcome.
func (s *SQLiteStore) RecordImportBatch(ctx context.Context, batch *models.ImportBatch, txs []*models.BankTransaction) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.ImportedAt.IsZero() {
		batch.ImportedAt = time.Now().UTC()
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "begin import", err)
	}
	defer dbtx.Rollback()

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO import_batches
			(id, bank_type, file_name, imported_at, status,
			 source_rows, success_count, error_count, duplicate_count, matched_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.BankType, batch.FileName, batch.ImportedAt.Format(timeLayout),
		string(models.BatchStatusPending), batch.SourceRowCount, 0, batch.ErrorCount, 0, 0)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "insert batch", err)
	}

	var stored, duplicates int
	for _, tx := range txs {
		hash := tx.Hash()

		// A row is a duplicate when its content hash is known, or when
		// it carries a bank reference number already on record.
		var exists int
		err := dbtx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM bank_transactions
			WHERE hash = ? OR (? != '' AND reference_number = ?)`,
			hash, tx.ReferenceNumber, tx.ReferenceNumber).Scan(&exists)
		if err != nil {
			return rerrors.StoreError(rerrors.CodeQueryFailed, "duplicate check", err)
		}
		if exists > 0 {
			duplicates++
			continue
		}

		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		tx.BatchID = batch.ID

		_, err = dbtx.ExecContext(ctx, `
			INSERT INTO bank_transactions
				(id, batch_id, hash, date, content, amount, balance, type,
				 counterparty_name, reference_number, memo,
				 matched_invoice_id, match_confidence, match_reason,
				 is_confirmed, confirmed_by, confirmed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', NULL)`,
			tx.ID, batch.ID, hash, tx.Date.Format(timeLayout), tx.Content,
			tx.Amount.String(), tx.Balance.String(), string(tx.Type),
			tx.CounterpartyName, tx.ReferenceNumber, tx.Memo,
			tx.MatchedInvoiceID, string(tx.MatchConfidence), tx.MatchReason)
		if err != nil {
			return rerrors.StoreError(rerrors.CodeQueryFailed, "insert transaction", err)
		}
		stored++
	}

	batch.SuccessCount = stored
	batch.DuplicateCount = duplicates
	batch.Status = batchStatus(batch.SourceRowCount, stored, duplicates, batch.ErrorCount)

	_, err = dbtx.ExecContext(ctx, `
		UPDATE import_batches
		SET status = ?, success_count = ?, duplicate_count = ?
		WHERE id = ?`,
		string(batch.Status), stored, duplicates, batch.ID)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "finalize batch", err)
	}

	if err := dbtx.Commit(); err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "commit import", err)
	}

	s.logger.WithFields(logger.Fields{
		"batch_id":   batch.ID,
		"stored":     stored,
		"duplicates": duplicates,
		"errors":     batch.ErrorCount,
		"status":     string(batch.Status),
	}).Info("Recorded import batch")
	return nil
}

func batchStatus(sourceRows, stored, duplicates, errors int) models.BatchStatus {
	switch {
	case stored == 0 && errors > 0:
		return models.BatchStatusFailed
	case errors > 0:
		return models.BatchStatusPartial
	default:
		return models.BatchStatusCompleted
	}
}

// GetBatch returns one import batch by ID.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bank_type, file_name, imported_at, status,
		       source_rows, success_count, error_count, duplicate_count, matched_count
		FROM import_batches WHERE id = ?`, id)
	return scanBatch(row, id)
}

// ListBatches returns batches ordered newest first.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]*models.ImportBatch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bank_type, file_name, imported_at, status,
		       source_rows, success_count, error_count, duplicate_count, matched_count
		FROM import_batches ORDER BY imported_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "list batches", err)
	}
	defer rows.Close()

	var batches []*models.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows, "")
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner, id string) (*models.ImportBatch, error) {
	var b models.ImportBatch
	var importedAt, status string
	err := row.Scan(&b.ID, &b.BankType, &b.FileName, &importedAt, &status,
		&b.SourceRowCount, &b.SuccessCount, &b.ErrorCount, &b.DuplicateCount, &b.MatchedCount)
	if err == sql.ErrNoRows {
		return nil, rerrors.NotFoundError(rerrors.CodeBatchNotFound, "import batch", id)
	}
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "scan batch", err)
	}
	b.Status = models.BatchStatus(status)
	b.ImportedAt, err = time.Parse(timeLayout, importedAt)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse batch timestamp", err)
	}
	return &b, nil
}

// GetTransaction returns one transaction by ID.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*models.BankTransaction, error) {
	row := s.db.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, id)
	return scanTransaction(row, id)
}

const selectTransaction = `
	SELECT id, batch_id, date, content, amount, balance, type,
	       counterparty_name, reference_number, memo,
	       matched_invoice_id, match_confidence, match_reason,
	       is_confirmed, confirmed_by, confirmed_at
	FROM bank_transactions`

// filterClause builds the WHERE clause for a transaction filter,
// without pagination.
func filterClause(filter TransactionFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.BankType != "" {
		conds = append(conds, "batch_id IN (SELECT id FROM import_batches WHERE bank_type = ?)")
		args = append(args, filter.BankType)
	}
	switch filter.Status {
	case StatusUnmatched:
		conds = append(conds, "matched_invoice_id = ''")
	case StatusMatched:
		conds = append(conds, "matched_invoice_id != '' AND is_confirmed = 0")
	case StatusConfirmed:
		conds = append(conds, "is_confirmed = 1")
	}
	if !filter.From.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, filter.From.Format(timeLayout))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, filter.To.Format(timeLayout))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListTransactions returns transactions matching the filter, ordered
// by date then ID.
func (s *SQLiteStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.BankTransaction, error) {
	where, args := filterClause(filter)
	query := selectTransaction + where + " ORDER BY date, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "list transactions", err)
	}
	defer rows.Close()

	var txs []*models.BankTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows, "")
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountTransactions returns the number of transactions matching the
// filter, ignoring Limit and Offset.
func (s *SQLiteStore) CountTransactions(ctx context.Context, filter TransactionFilter) (int, error) {
	where, args := filterClause(filter)

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM bank_transactions`+where, args...).Scan(&count)
	if err != nil {
		return 0, rerrors.StoreError(rerrors.CodeQueryFailed, "count transactions", err)
	}
	return count, nil
}

func scanTransaction(row rowScanner, id string) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	var date, amount, balance, txType, confidence string
	var confirmed int
	var confirmedAt sql.NullString

	err := row.Scan(&tx.ID, &tx.BatchID, &date, &tx.Content, &amount, &balance, &txType,
		&tx.CounterpartyName, &tx.ReferenceNumber, &tx.Memo,
		&tx.MatchedInvoiceID, &confidence, &tx.MatchReason,
		&confirmed, &tx.ConfirmedBy, &confirmedAt)
	if err == sql.ErrNoRows {
		return nil, rerrors.NotFoundError(rerrors.CodeTransactionNotFound, "transaction", id)
	}
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "scan transaction", err)
	}

	tx.Type = models.TransactionType(txType)
	tx.MatchConfidence = models.MatchConfidence(confidence)
	tx.IsConfirmed = confirmed != 0

	if tx.Date, err = time.Parse(timeLayout, date); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse transaction date", err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse transaction amount", err)
	}
	if tx.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse transaction balance", err)
	}
	if confirmedAt.Valid && confirmedAt.String != "" {
		t, err := time.Parse(timeLayout, confirmedAt.String)
		if err != nil {
			return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse confirmation timestamp", err)
		}
		tx.ConfirmedAt = &t
	}
	return &tx, nil
}

// UpdateTransactionMatch records the proposed match on an unconfirmed
// transaction. A candidate with confidence none clears the match.
func (s *SQLiteStore) UpdateTransactionMatch(ctx context.Context, txID string, candidate *models.MatchCandidate) error {
	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.IsConfirmed {
		return rerrors.InvalidStateError(rerrors.CodeAlreadyConfirmed, txID,
			"cannot change the match on a confirmed transaction")
	}

	invoiceID := candidate.InvoiceID
	confidence := candidate.Confidence
	reason := candidate.Reason
	if confidence == models.MatchConfidenceNone {
		invoiceID, reason = "", ""
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET matched_invoice_id = ?, match_confidence = ?, match_reason = ?
		WHERE id = ?`,
		invoiceID, string(confidence), reason, txID)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "update match", err)
	}
	return nil
}

// ConfirmTransaction moves a matched transaction to confirmed and
// returns the updated record.
func (s *SQLiteStore) ConfirmTransaction(ctx context.Context, txID, confirmedBy string) (*models.BankTransaction, error) {
	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.HasActiveMatch() {
		return nil, rerrors.InvalidStateError(rerrors.CodeNoActiveMatch, txID,
			"cannot confirm a transaction without an active match")
	}
	if tx.IsConfirmed {
		return nil, rerrors.InvalidStateError(rerrors.CodeAlreadyConfirmed, txID,
			"transaction is already confirmed")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET is_confirmed = 1, confirmed_by = ?, confirmed_at = ?
		WHERE id = ?`,
		confirmedBy, now.Format(timeLayout), txID)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "confirm transaction", err)
	}

	tx.IsConfirmed = true
	tx.ConfirmedBy = confirmedBy
	tx.ConfirmedAt = &now
	s.logger.WithFields(logger.Fields{
		"transaction_id": txID,
		"invoice_id":     tx.MatchedInvoiceID,
	}).Info("Confirmed transaction match")
	return tx, nil
}

// UnconfirmTransaction reverts a confirmed transaction to matched,
// keeping the match itself in place.
func (s *SQLiteStore) UnconfirmTransaction(ctx context.Context, txID string) (*models.BankTransaction, error) {
	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.IsConfirmed {
		return nil, rerrors.InvalidStateError(rerrors.CodeNotConfirmed, txID,
			"transaction is not confirmed")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET is_confirmed = 0, confirmed_by = '', confirmed_at = NULL
		WHERE id = ?`, txID)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "unconfirm transaction", err)
	}

	tx.IsConfirmed = false
	tx.ConfirmedBy = ""
	tx.ConfirmedAt = nil
	return tx, nil
}

// CancelMatch clears the proposed match on an unconfirmed transaction.
// A confirmed transaction must be unconfirmed first.
func (s *SQLiteStore) CancelMatch(ctx context.Context, txID string) (*models.BankTransaction, error) {
	tx, err := s.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.IsConfirmed {
		return nil, rerrors.InvalidStateError(rerrors.CodeAlreadyConfirmed, txID,
			"unconfirm the transaction before cancelling its match")
	}
	if !tx.HasActiveMatch() {
		return nil, rerrors.InvalidStateError(rerrors.CodeNoActiveMatch, txID,
			"transaction has no match to cancel")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET matched_invoice_id = '', match_confidence = '', match_reason = ''
		WHERE id = ?`, txID)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "cancel match", err)
	}

	tx.MatchedInvoiceID = ""
	tx.MatchConfidence = ""
	tx.MatchReason = ""
	return tx, nil
}

// SetBatchMatchedCount records how many of a batch's transactions
// received a match.
func (s *SQLiteStore) SetBatchMatchedCount(ctx context.Context, batchID string, matched int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_batches SET matched_count = ? WHERE id = ?`, matched, batchID)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "update matched count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.NotFoundError(rerrors.CodeBatchNotFound, "import batch", batchID)
	}
	return nil
}

// PurgeBatch deletes a batch and its transactions, returning the
// number of transactions removed.
func (s *SQLiteStore) PurgeBatch(ctx context.Context, batchID string) (int64, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bank_transactions WHERE batch_id = ?`, batchID)
	if err != nil {
		return 0, rerrors.StoreError(rerrors.CodeQueryFailed, "purge transactions", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM import_batches WHERE id = ?`, batchID); err != nil {
		return removed, rerrors.StoreError(rerrors.CodeQueryFailed, "purge batch", err)
	}

	s.logger.WithFields(logger.Fields{
		"batch_id": batchID,
		"removed":  removed,
	}).Info("Purged import batch")
	return removed, nil
}

// GetInvoice returns one invoice by ID.
func (s *SQLiteStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, customer_name, total_amount, remaining_amount, issue_date, due_date
		FROM invoices WHERE id = ?`, id)
	return scanInvoice(row, id)
}

// ListOpenInvoices returns invoices with a positive remaining amount,
// ordered by invoice number for deterministic matching input.
func (s *SQLiteStore) ListOpenInvoices(ctx context.Context) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, customer_name, total_amount, remaining_amount, issue_date, due_date
		FROM invoices WHERE CAST(remaining_amount AS REAL) > 0
		ORDER BY invoice_number`)
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "list open invoices", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows, "")
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row rowScanner, id string) (*models.Invoice, error) {
	var inv models.Invoice
	var total, remaining, issue, due string

	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CustomerName, &total, &remaining, &issue, &due)
	if err == sql.ErrNoRows {
		return nil, rerrors.NotFoundError(rerrors.CodeInvoiceNotFound, "invoice", id)
	}
	if err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "scan invoice", err)
	}

	if inv.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse invoice total", err)
	}
	if inv.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse invoice remaining", err)
	}
	if inv.IssueDate, err = time.Parse(timeLayout, issue); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse issue date", err)
	}
	if inv.DueDate, err = time.Parse(timeLayout, due); err != nil {
		return nil, rerrors.StoreError(rerrors.CodeQueryFailed, "parse due date", err)
	}
	return &inv, nil
}

// UpsertInvoices loads or refreshes invoice records.
func (s *SQLiteStore) UpsertInvoices(ctx context.Context, invoices []*models.Invoice) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "begin invoice upsert", err)
	}
	defer dbtx.Rollback()

	for _, inv := range invoices {
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO invoices
				(id, invoice_number, customer_name, total_amount, remaining_amount, issue_date, due_date)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				invoice_number = excluded.invoice_number,
				customer_name = excluded.customer_name,
				total_amount = excluded.total_amount,
				remaining_amount = excluded.remaining_amount,
				issue_date = excluded.issue_date,
				due_date = excluded.due_date`,
			inv.ID, inv.InvoiceNumber, inv.CustomerName,
			inv.TotalAmount.String(), inv.RemainingAmount.String(),
			inv.IssueDate.Format(timeLayout), inv.DueDate.Format(timeLayout))
		if err != nil {
			return rerrors.StoreError(rerrors.CodeQueryFailed, "upsert invoice", err)
		}
	}
	return dbtx.Commit()
}

// ApplyPayment records a payment and decrements the invoice's
// remaining amount. A payment larger than the remaining amount is
// rejected.
func (s *SQLiteStore) ApplyPayment(ctx context.Context, record *models.PaymentRecord) error {
	if err := record.Validate(); err != nil {
		return rerrors.ValidationError(rerrors.CodeInvalidFormat, "payment", err.Error())
	}

	inv, err := s.GetInvoice(ctx, record.InvoiceID)
	if err != nil {
		return err
	}
	if record.Amount.GreaterThan(inv.RemainingAmount) {
		return rerrors.ValidationError(rerrors.CodeOutOfRange, "amount",
			fmt.Sprintf("payment %s exceeds remaining amount %s", record.Amount, inv.RemainingAmount))
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = models.PaymentStatusConfirmed
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "begin payment", err)
	}
	defer dbtx.Rollback()

	var confirmedAt interface{}
	if record.ConfirmedAt != nil {
		confirmedAt = record.ConfirmedAt.Format(timeLayout)
	}
	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO payment_records
			(id, invoice_id, amount, payment_date, payment_method, notes, status,
			 confirmed_by, confirmed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.InvoiceID, record.Amount.String(),
		record.PaymentDate.Format(timeLayout), string(record.PaymentMethod),
		record.Notes, string(record.Status), record.ConfirmedBy, confirmedAt,
		record.CreatedAt.Format(timeLayout))
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "insert payment", err)
	}

	remaining := inv.RemainingAmount.Sub(record.Amount)
	_, err = dbtx.ExecContext(ctx,
		`UPDATE invoices SET remaining_amount = ? WHERE id = ?`,
		remaining.String(), inv.ID)
	if err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "apply payment", err)
	}

	if err := dbtx.Commit(); err != nil {
		return rerrors.StoreError(rerrors.CodeQueryFailed, "commit payment", err)
	}

	s.logger.WithFields(logger.Fields{
		"invoice_id": inv.ID,
		"amount":     record.Amount.String(),
		"remaining":  remaining.String(),
	}).Info("Applied payment to invoice")
	return nil
}
