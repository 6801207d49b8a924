// Package parsers converts raw bank statement CSV exports into
// normalized transactions.
//
// Each supported bank has a fixed column layout described by a
// BankFormat. Parsing follows a partial-success policy: a row that
// cannot be parsed is recorded as a row-indexed error and the
// remaining rows continue; only structural failures (undecodable
// payload, unknown bank format) abort the whole operation.
package parsers

import (
	"encoding/csv"
	"regexp"
	"strings"

	"invoice-reconciliation-service/internal/models"
	rerrors "invoice-reconciliation-service/pkg/errors"
	"invoice-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// BankFormat describes one bank's CSV export layout.
type BankFormat struct {
	// Type is the stable identifier used in API requests ("sbi", "mufg", ...).
	Type string
	// Name and NameEn are the bank's display names.
	Name   string
	NameEn string
	// Code is the Zengin bank code.
	Code string

	// SkipLines is the number of header lines before data rows.
	SkipLines int

	// Column indices into each data row. MemoIndex and
	// CombinedAmountIndex are -1 when the bank's layout has no such
	// column. When CombinedAmountIndex is set, deposits and
	// withdrawals share one signed column and WithdrawalIndex /
	// DepositIndex are ignored.
	DateIndex           int
	ContentIndex        int
	WithdrawalIndex     int
	DepositIndex        int
	BalanceIndex        int
	MemoIndex           int
	CombinedAmountIndex int

	// detect reports whether the first lines of a payload look like
	// this bank's export.
	detect func(head string) bool
}

// bankFormats lists the supported banks in detection order. Order
// matters: MUFG and Mizuho share the お支払金額 header and are told
// apart by the deposit column spelling.
var bankFormats = []BankFormat{
	{
		Type: "sbi", Name: "住信SBIネット銀行", NameEn: "SBI Sumishin Net Bank", Code: "0038",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 2, DepositIndex: 3,
		BalanceIndex: 4, MemoIndex: 5, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "出金金額(円)") && strings.Contains(head, "入金金額(円)")
		},
	},
	{
		Type: "mufg", Name: "三菱UFJ銀行", NameEn: "MUFG Bank", Code: "0005",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 2, DepositIndex: 3,
		BalanceIndex: 4, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "お支払金額") && strings.Contains(head, "お預り金額")
		},
	},
	{
		Type: "smbc", Name: "三井住友銀行", NameEn: "SMBC", Code: "0009",
		SkipLines: 1, DateIndex: 0, ContentIndex: 4, WithdrawalIndex: 1, DepositIndex: 2,
		BalanceIndex: 3, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "お引出し") && strings.Contains(head, "お預入れ")
		},
	},
	{
		Type: "mizuho", Name: "みずほ銀行", NameEn: "Mizuho Bank", Code: "0001",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 2, DepositIndex: 3,
		BalanceIndex: 4, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "お支払金額") && strings.Contains(head, "お預かり金額")
		},
	},
	{
		Type: "rakuten", Name: "楽天銀行", NameEn: "Rakuten Bank", Code: "0036",
		SkipLines: 1, DateIndex: 0, ContentIndex: 3, WithdrawalIndex: -1, DepositIndex: -1,
		BalanceIndex: 2, MemoIndex: -1, CombinedAmountIndex: 1,
		detect: func(head string) bool {
			return strings.Contains(head, "取引日") && strings.Contains(head, "入出金")
		},
	},
	{
		Type: "japan-post", Name: "ゆうちょ銀行", NameEn: "Japan Post Bank", Code: "9900",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 3, DepositIndex: 2,
		BalanceIndex: 4, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "お預入金額") && strings.Contains(head, "お引出金額")
		},
	},
	{
		Type: "sony", Name: "ソニー銀行", NameEn: "Sony Bank", Code: "0035",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 2, DepositIndex: 3,
		BalanceIndex: 4, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return strings.Contains(head, "お支払い金額") && strings.Contains(head, "お預かり金額")
		},
	},
	{
		Type: "aeon", Name: "イオン銀行", NameEn: "AEON Bank", Code: "0040",
		SkipLines: 1, DateIndex: 0, ContentIndex: 1, WithdrawalIndex: 2, DepositIndex: 3,
		BalanceIndex: 4, MemoIndex: -1, CombinedAmountIndex: -1,
		detect: func(head string) bool {
			return aeonHeaderPattern.MatchString(head)
		},
	},
}

var aeonHeaderPattern = regexp.MustCompile(`取引日.*摘要.*出金.*入金.*残高`)

// SupportedBanks returns the bank formats this parser understands.
func SupportedBanks() []BankFormat {
	formats := make([]BankFormat, len(bankFormats))
	copy(formats, bankFormats)
	return formats
}

// FormatFor returns the format for a bank type identifier.
func FormatFor(bankType string) (*BankFormat, error) {
	for i := range bankFormats {
		if bankFormats[i].Type == bankType {
			return &bankFormats[i], nil
		}
	}
	return nil, rerrors.New(rerrors.CategoryParse, rerrors.CodeUnknownBank,
		"unsupported bank type: "+bankType).WithContext("bank_type", bankType)
}

// DetectBank inspects the first lines of a CSV payload and returns the
// matching bank type, or false when no format matches.
func DetectBank(csvText string) (string, bool) {
	lines := strings.SplitN(csvText, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	head := strings.Join(lines, "\n")

	for i := range bankFormats {
		if bankFormats[i].detect(head) {
			return bankFormats[i].Type, true
		}
	}
	return "", false
}

// ParseResult holds the outcome of parsing one statement payload.
// Transactions and Errors together account for every source row.
type ParseResult struct {
	BankType              string
	Transactions          []*models.BankTransaction
	Errors                rerrors.RowErrors
	TotalCount            int
	DepositCount          int
	WithdrawalCount       int
	TotalDepositAmount    decimal.Decimal
	TotalWithdrawalAmount decimal.Decimal
}

// Parser parses bank statement CSV payloads.
type Parser struct {
	logger logger.Logger
}

// NewParser creates a statement parser.
func NewParser(log logger.Logger) *Parser {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Parser{logger: log.WithComponent("bank_csv_parser")}
}

// Parse decodes and parses a raw statement payload. bankType may be
// "auto", in which case the format is detected from the header line.
// The returned error is non-nil only for structural failures; row
// failures are collected in ParseResult.Errors.
func (p *Parser) Parse(payload []byte, bankType string) (*ParseResult, error) {
	text, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}

	if bankType == "" || bankType == "auto" {
		detected, ok := DetectBank(text)
		if !ok {
			return nil, rerrors.New(rerrors.CategoryParse, rerrors.CodeUnknownBank,
				"could not detect bank format from CSV header")
		}
		bankType = detected
	}

	format, err := FormatFor(bankType)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, readErr := reader.ReadAll()
	if readErr != nil {
		return nil, rerrors.Wrap(readErr, rerrors.CategoryParse, rerrors.CodeInvalidFormat,
			"malformed CSV payload")
	}

	result := &ParseResult{
		BankType:              bankType,
		TotalDepositAmount:    decimal.Zero,
		TotalWithdrawalAmount: decimal.Zero,
	}

	for i, fields := range rows {
		if i < format.SkipLines {
			continue
		}
		if isEmptyRow(fields) {
			continue
		}
		rowNum := i + 1

		tx, rowErr := NormalizeRow(format, rowNum, fields)
		if rowErr != nil {
			result.Errors.Add(rowNum, rowErr)
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		if tx.IsDeposit() {
			result.DepositCount++
			result.TotalDepositAmount = result.TotalDepositAmount.Add(tx.Amount)
		} else {
			result.WithdrawalCount++
			result.TotalWithdrawalAmount = result.TotalWithdrawalAmount.Add(tx.Amount.Abs())
		}
	}
	result.TotalCount = len(result.Transactions)

	p.logger.WithFields(logger.Fields{
		"bank_type":   bankType,
		"parsed":      result.TotalCount,
		"deposits":    result.DepositCount,
		"withdrawals": result.WithdrawalCount,
		"row_errors":  len(result.Errors),
	}).Info("Parsed bank statement")

	return result, nil
}

func isEmptyRow(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
