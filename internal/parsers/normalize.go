package parsers

import (
	"regexp"
	"strings"

	"invoice-reconciliation-service/internal/models"
	rerrors "invoice-reconciliation-service/pkg/errors"
)

// Counterparty extraction patterns, applied in order; the first match
// wins. They cover the wire-transfer markers banks prepend to the
// statement description (kanji, katakana, and halfwidth katakana
// spellings, plus the plain deposit marker).
var counterpartyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^振込[＊*]?\s*(.+)`),
	regexp.MustCompile(`^フリコミ[＊*]?\s*(.+)`),
	regexp.MustCompile(`^ﾌﾘｺﾐ[＊*]?\s*(.+)`),
	regexp.MustCompile(`^入金\s*(.+)`),
}

// parenthesised abbreviations the bank appends after the remitter name
var parenPattern = regexp.MustCompile(`[（(].*?[）)]`)

// referencePattern picks up a bank reference number: a run of six or
// more digits in the description or memo.
var referencePattern = regexp.MustCompile(`\b\d{6,}\b`)

// ExtractCounterpartyName applies the ordered marker patterns to a
// statement description. It returns "" when no pattern matches; that
// is not an error, matching falls back to the raw content.
func ExtractCounterpartyName(content string) string {
	for _, pattern := range counterpartyPatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		name := parenPattern.ReplaceAllString(m[1], "")
		return strings.TrimSpace(name)
	}
	return ""
}

// ExtractReferenceNumber pulls a bank reference number out of the
// description or memo, or "" when none is present.
func ExtractReferenceNumber(content, memo string) string {
	if ref := referencePattern.FindString(memo); ref != "" {
		return ref
	}
	return referencePattern.FindString(content)
}

// NormalizeRow converts one raw CSV row into a BankTransaction.
//
// Sign rules: for split-column formats exactly one of the withdrawal
// and deposit columns must be populated and non-zero; a row with both
// or neither is a row error. For combined-column formats the sign of
// the single amount column decides the type. The resulting Amount is
// positive for deposits and negative for withdrawals.
func NormalizeRow(format *BankFormat, rowNum int, fields []string) (*models.BankTransaction, *rerrors.ReconcilerError) {
	maxIndex := format.DateIndex
	for _, idx := range []int{format.ContentIndex, format.WithdrawalIndex, format.DepositIndex, format.BalanceIndex, format.CombinedAmountIndex} {
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if len(fields) <= maxIndex {
		return nil, rerrors.ParseError(rerrors.CodeInvalidFormat, rowNum, "row",
			strings.Join(fields, ","), nil)
	}

	dateStr := strings.TrimSpace(fields[format.DateIndex])
	date, err := models.ParseDate(dateStr)
	if err != nil {
		return nil, rerrors.ParseError(rerrors.CodeInvalidDate, rowNum, "date", dateStr, err)
	}

	content := strings.TrimSpace(fields[format.ContentIndex])

	tx := &models.BankTransaction{
		Date:    date,
		Content: content,
	}

	if format.CombinedAmountIndex >= 0 {
		raw := fields[format.CombinedAmountIndex]
		amount, err := models.ParseAmount(raw)
		if err != nil {
			return nil, rerrors.ParseError(rerrors.CodeInvalidAmount, rowNum, "amount", raw, err)
		}
		if amount.IsZero() {
			return nil, rerrors.ParseError(rerrors.CodeAmbiguousRow, rowNum, "amount", raw, nil)
		}
		tx.Amount = amount
		if amount.IsPositive() {
			tx.Type = models.TransactionTypeDeposit
		} else {
			tx.Type = models.TransactionTypeWithdrawal
		}
	} else {
		withdrawalRaw := fields[format.WithdrawalIndex]
		depositRaw := fields[format.DepositIndex]

		withdrawal, err := models.ParseAmount(withdrawalRaw)
		if err != nil {
			return nil, rerrors.ParseError(rerrors.CodeInvalidAmount, rowNum, "withdrawal", withdrawalRaw, err)
		}
		deposit, err := models.ParseAmount(depositRaw)
		if err != nil {
			return nil, rerrors.ParseError(rerrors.CodeInvalidAmount, rowNum, "deposit", depositRaw, err)
		}

		hasWithdrawal := !withdrawal.IsZero()
		hasDeposit := !deposit.IsZero()
		if hasWithdrawal == hasDeposit {
			return nil, rerrors.ParseError(rerrors.CodeAmbiguousRow, rowNum, "amount",
				withdrawalRaw+"/"+depositRaw, nil)
		}

		if hasDeposit {
			tx.Amount = deposit.Abs()
			tx.Type = models.TransactionTypeDeposit
		} else {
			tx.Amount = withdrawal.Abs().Neg()
			tx.Type = models.TransactionTypeWithdrawal
		}
	}

	balanceRaw := fields[format.BalanceIndex]
	balance, err := models.ParseAmount(balanceRaw)
	if err != nil {
		return nil, rerrors.ParseError(rerrors.CodeInvalidAmount, rowNum, "balance", balanceRaw, err)
	}
	tx.Balance = balance

	if format.MemoIndex >= 0 && format.MemoIndex < len(fields) {
		tx.Memo = strings.TrimSpace(fields[format.MemoIndex])
	}

	tx.CounterpartyName = ExtractCounterpartyName(content)
	tx.ReferenceNumber = ExtractReferenceNumber(content, tx.Memo)

	if err := tx.Validate(); err != nil {
		return nil, rerrors.ParseError(rerrors.CodeInvalidFormat, rowNum, "row",
			strings.Join(fields, ","), err)
	}
	return tx, nil
}
