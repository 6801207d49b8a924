// Package models defines the typed domain records of the
// reconciliation service: bank transactions, import batches, invoices,
// match candidates, and payment records.
//
// The boundary rule is strict: raw CSV fields are converted into these
// types by the parsers package, and malformed rows are rejected there.
// Nothing downstream deals with missing or loosely-typed fields.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// TransactionType classifies a bank transaction by the direction of funds.
type TransactionType string

const (
	// TransactionTypeDeposit is money received into the account.
	TransactionTypeDeposit TransactionType = "deposit"
	// TransactionTypeWithdrawal is money paid out of the account.
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// String returns the string representation of TransactionType.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeWithdrawal
}

// BankTransaction is one normalized row of a bank statement export.
// Amount is signed: positive for deposits, negative for withdrawals.
// Instances are immutable after import except for the match fields
// managed by the store.
type BankTransaction struct {
	ID               string          `json:"id"`
	BatchID          string          `json:"batchId"`
	Date             time.Time       `json:"date"`
	Content          string          `json:"content"`
	Amount           decimal.Decimal `json:"amount"`
	Balance          decimal.Decimal `json:"balance"`
	Type             TransactionType `json:"type"`
	CounterpartyName string          `json:"counterpartyName,omitempty"`
	ReferenceNumber  string          `json:"referenceNumber,omitempty"`
	Memo             string          `json:"memo,omitempty"`

	// Match lifecycle fields, owned by the store.
	MatchedInvoiceID string          `json:"matchedInvoiceId,omitempty"`
	MatchConfidence  MatchConfidence `json:"matchConfidence,omitempty"`
	MatchReason      string          `json:"matchReason,omitempty"`
	IsConfirmed      bool            `json:"isConfirmed"`
	ConfirmedBy      string          `json:"confirmedBy,omitempty"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
}

// Validate performs basic validation on the BankTransaction.
func (t *BankTransaction) Validate() error {
	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}
	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount cannot be zero")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	if t.Type == TransactionTypeDeposit && t.Amount.IsNegative() {
		return fmt.Errorf("deposit amount must be positive: %s", t.Amount)
	}
	if t.Type == TransactionTypeWithdrawal && t.Amount.IsPositive() {
		return fmt.Errorf("withdrawal amount must be negative: %s", t.Amount)
	}
	return nil
}

// AbsoluteAmount returns the unsigned amount of the transaction.
func (t *BankTransaction) AbsoluteAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// IsDeposit returns true if the transaction is a deposit.
func (t *BankTransaction) IsDeposit() bool {
	return t.Type == TransactionTypeDeposit
}

// HasActiveMatch reports whether the transaction currently carries a
// match candidate that has not been cancelled.
func (t *BankTransaction) HasActiveMatch() bool {
	return t.MatchedInvoiceID != "" && t.MatchConfidence != MatchConfidenceNone
}

// Hash returns the duplicate-detection key for the transaction:
// sha256 over "date|amount|content|referenceNumber" (date in
// YYYY-MM-DD), truncated to 32 hex characters. Two imports of the same
// statement row always produce the same hash.
func (t *BankTransaction) Hash() string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		t.Date.Format("2006-01-02"), t.Amount.String(), t.Content, t.ReferenceNumber)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:32]
}

// String returns a string representation of the BankTransaction.
func (t *BankTransaction) String() string {
	return fmt.Sprintf("BankTransaction{Date: %s, Amount: %s, Type: %s, Content: %s}",
		t.Date.Format("2006-01-02"), t.Amount.String(), t.Type, t.Content)
}

// BatchStatus represents the lifecycle state of an import batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusPartial   BatchStatus = "partial"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// IsValid checks if the batch status is valid.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusPartial, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the batch has finished processing.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusPartial || s == BatchStatusFailed
}

// ImportBatch groups all transactions parsed from one statement upload.
type ImportBatch struct {
	ID             string      `json:"id"`
	BankType       string      `json:"bankType"`
	FileName       string      `json:"fileName,omitempty"`
	ImportedAt     time.Time   `json:"importedAt"`
	Status         BatchStatus `json:"status"`
	SourceRowCount int         `json:"sourceRowCount"`
	SuccessCount   int         `json:"successCount"`
	ErrorCount     int         `json:"errorCount"`
	DuplicateCount int         `json:"duplicateCount"`
	MatchedCount   int         `json:"matchedCount"`
}

// Invoice is the read-only view of an invoice consumed by the matcher.
// The invoice subsystem owns these records; the reconciliation core
// only reads them and applies payments through the invoice store.
type Invoice struct {
	ID              string          `json:"id"`
	InvoiceNumber   string          `json:"invoiceNumber"`
	CustomerName    string          `json:"customerName"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	IssueDate       time.Time       `json:"issueDate"`
	DueDate         time.Time       `json:"dueDate"`
}

// IsOpen reports whether the invoice is eligible for matching.
func (i *Invoice) IsOpen() bool {
	return i.RemainingAmount.IsPositive()
}

// MatchConfidence is the categorical certainty tier of a proposed match.
type MatchConfidence string

const (
	MatchConfidenceHigh   MatchConfidence = "high"
	MatchConfidenceMedium MatchConfidence = "medium"
	MatchConfidenceLow    MatchConfidence = "low"
	MatchConfidenceNone   MatchConfidence = "none"
)

// IsValid checks if the confidence tier is valid.
func (c MatchConfidence) IsValid() bool {
	switch c {
	case MatchConfidenceHigh, MatchConfidenceMedium, MatchConfidenceLow, MatchConfidenceNone:
		return true
	}
	return false
}

// MatchCandidate is the matcher's proposal tying a transaction to an
// invoice, with the confidence tier and a human-readable reason.
type MatchCandidate struct {
	TransactionID string          `json:"transactionId,omitempty"`
	InvoiceID     string          `json:"invoiceId,omitempty"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Confidence    MatchConfidence `json:"confidence"`
	Reason        string          `json:"reason"`
}

// PaymentMethod identifies how a payment arrived.
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodOther        PaymentMethod = "other"
)

// IsValid checks if the payment method is valid.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodOther:
		return true
	}
	return false
}

// PaymentStatus represents the lifecycle state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentRecord marks an amount as paid against an invoice. Confirmed
// records reduce the invoice's remaining amount; cancelling one
// restores it.
type PaymentRecord struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoiceId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"paymentDate"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Notes         string          `json:"notes,omitempty"`
	Status        PaymentStatus   `json:"status"`
	ConfirmedBy   string          `json:"confirmedBy,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Validate checks the required fields of a payment record.
func (p *PaymentRecord) Validate() error {
	if strings.TrimSpace(p.InvoiceID) == "" {
		return fmt.Errorf("payment record invoice id cannot be empty")
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("payment amount must be positive: %s", p.Amount)
	}
	if p.PaymentDate.IsZero() {
		return fmt.Errorf("payment date cannot be zero")
	}
	if !p.PaymentMethod.IsValid() {
		return fmt.Errorf("invalid payment method: %s", p.PaymentMethod)
	}
	return nil
}

// Utility functions for boundary parsing.

// ParseAmount parses a bank-statement amount string into an exact
// decimal. Thousands separators, yen marks, and surrounding whitespace
// are stripped; fullwidth digits are narrowed first. An empty string
// or a bare "-" parses as zero, matching how banks leave the unused
// withdrawal/deposit column blank.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = width.Narrow.String(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", "円", "", "￥", "", "¥", "", " ", "").Replace(s)
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}
	return d, nil
}

// Statement date layouts observed across the supported banks.
var dateLayouts = []string{
	"2006/01/02",
	"2006.01.02",
	"2006-01-02",
	"20060102",
}

// ParseDate parses a statement date using the layouts the supported
// banks export (YYYY/MM/DD, YYYY.MM.DD, YYYY-MM-DD, YYYYMMDD).
func ParseDate(s string) (time.Time, error) {
	s = width.Narrow.String(strings.TrimSpace(s))
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// DaysBetween returns the absolute whole-day distance between two dates.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}
