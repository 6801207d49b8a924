// Package matcher pairs normalized bank transactions with open
// invoices and grades each pairing with a confidence tier.
//
// Matching is pure: a Matcher holds only configuration, takes the
// candidate invoices as input, and never touches storage. Callers
// decide what to do with the result.
package matcher

import (
	"invoice-reconciliation-service/internal/models"
	"invoice-reconciliation-service/pkg/logger"
)

// Matcher grades transactions against open invoices.
type Matcher struct {
	config *Config
	logger logger.Logger
}

// NewMatcher creates a matcher. A nil config selects DefaultConfig.
func NewMatcher(config *Config, log logger.Logger) (*Matcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Matcher{
		config: config.Clone(),
		logger: log.WithComponent("invoice_matcher"),
	}, nil
}

// Match finds the best open invoice for one transaction.
//
// Only invoices whose remaining amount equals the transaction's
// absolute amount are candidates. Among candidates, a strong
// counterparty/customer name match yields high confidence, an issue
// date within the configured window yields medium, and a bare amount
// match yields low. With no candidate the result carries confidence
// none and an empty invoice ID.
//
// Ties inside a tier break deterministically: the invoice whose issue
// date is closest to the transaction date wins, then the
// lexicographically smallest invoice number.
func (m *Matcher) Match(tx *models.BankTransaction, invoices []*models.Invoice) *models.MatchCandidate {
	amount := tx.AbsoluteAmount()

	var best *models.Invoice
	var bestConfidence models.MatchConfidence
	var bestReason string

	for _, inv := range invoices {
		if !inv.IsOpen() || !inv.RemainingAmount.Equal(amount) {
			continue
		}

		confidence, reason := m.grade(tx, inv)
		if best == nil || confidenceRank(confidence) > confidenceRank(bestConfidence) {
			best, bestConfidence, bestReason = inv, confidence, reason
			continue
		}
		if confidenceRank(confidence) == confidenceRank(bestConfidence) && m.beats(tx, inv, best) {
			best, bestReason = inv, reason
		}
	}

	if best == nil {
		return &models.MatchCandidate{
			TransactionID: tx.ID,
			Confidence:    models.MatchConfidenceNone,
			Reason:        "no open invoice with matching amount",
		}
	}

	m.logger.WithFields(logger.Fields{
		"transaction_id": tx.ID,
		"invoice_id":     best.ID,
		"confidence":     string(bestConfidence),
	}).Debug("Matched transaction to invoice")

	return &models.MatchCandidate{
		TransactionID: tx.ID,
		InvoiceID:     best.ID,
		InvoiceNumber: best.InvoiceNumber,
		Confidence:    bestConfidence,
		Reason:        bestReason,
	}
}

// MatchAll matches a batch of transactions against the same invoice
// pool. Each transaction is graded independently; matching does not
// consume invoices.
func (m *Matcher) MatchAll(txs []*models.BankTransaction, invoices []*models.Invoice) []*models.MatchCandidate {
	candidates := make([]*models.MatchCandidate, 0, len(txs))
	for _, tx := range txs {
		candidates = append(candidates, m.Match(tx, invoices))
	}
	return candidates
}

// grade assigns a confidence tier to an exact-amount candidate.
func (m *Matcher) grade(tx *models.BankTransaction, inv *models.Invoice) (models.MatchConfidence, string) {
	name := tx.CounterpartyName
	if name == "" {
		// No transfer marker was found in the description; fall back
		// to the raw statement content for the name comparison.
		name = tx.Content
	}
	if m.namesMatch(name, inv.CustomerName) {
		return models.MatchConfidenceHigh, "amount and customer name match"
	}

	if models.DaysBetween(tx.Date, inv.IssueDate) <= m.config.DateWindowDays {
		return models.MatchConfidenceMedium, "amount matches, issue date within window"
	}

	return models.MatchConfidenceLow, "amount matches"
}

// beats reports whether challenger wins the tie-break against champion.
func (m *Matcher) beats(tx *models.BankTransaction, challenger, champion *models.Invoice) bool {
	cd := models.DaysBetween(tx.Date, challenger.IssueDate)
	bd := models.DaysBetween(tx.Date, champion.IssueDate)
	if cd != bd {
		return cd < bd
	}
	return challenger.InvoiceNumber < champion.InvoiceNumber
}

func confidenceRank(c models.MatchConfidence) int {
	switch c {
	case models.MatchConfidenceHigh:
		return 3
	case models.MatchConfidenceMedium:
		return 2
	case models.MatchConfidenceLow:
		return 1
	default:
		return 0
	}
}
