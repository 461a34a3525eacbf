// Package classify decides whether a card transaction is a purchase, a bill
// payment or a refund. Matching is deterministic and rule driven; the rule
// pack is injected so it can be localized and tested on its own.
package classify

import (
	"strings"

	"github.com/boddenberg/fatura-engine/internal/domain"
)

// Result is the outcome of classifying one transaction.
type Result struct {
	Kind      domain.Kind
	Ambiguous bool
	Rule      string // what decided the kind
}

type compiledRule struct {
	name  string
	terms [][]string
}

func (r compiledRule) match(tokens []string) bool {
	for _, term := range r.terms {
		if !containsPhrase(tokens, term) {
			return false
		}
	}
	return true
}

// Classifier applies a Rules pack. It is immutable and safe for concurrent use.
type Classifier struct {
	payments          []compiledRule
	paymentExclusions []compiledRule
	refunds           []compiledRule
	paymentCategories map[string]bool
	refundCategories  map[string]bool
}

// New compiles rules into a Classifier.
func New(rules Rules) *Classifier {
	return &Classifier{
		payments:          compile(rules.PaymentRules),
		paymentExclusions: compile(rules.PaymentExclusions),
		refunds:           compile(rules.RefundRules),
		paymentCategories: categorySet(rules.PaymentCategories),
		refundCategories:  categorySet(rules.RefundCategories),
	}
}

var defaultClassifier = New(DefaultRules())

// Default returns the classifier built from DefaultRules.
func Default() *Classifier { return defaultClassifier }

func compile(rules []Rule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{name: r.Name}
		for _, term := range r.AllOf {
			if toks := Tokens(term); len(toks) > 0 {
				cr.terms = append(cr.terms, toks)
			}
		}
		if len(cr.terms) > 0 {
			out = append(out, cr)
		}
	}
	return out
}

func categorySet(categories []string) map[string]bool {
	set := make(map[string]bool, len(categories))
	for _, c := range categories {
		if n := Normalize(c); n != "" {
			set[n] = true
		}
	}
	return set
}

func firstMatch(rules []compiledRule, tokens []string) (string, bool) {
	for _, r := range rules {
		if r.match(tokens) {
			return r.name, true
		}
	}
	return "", false
}

// IsBillPayment reports whether a description/category pair settles an invoice.
func (c *Classifier) IsBillPayment(description, category string) bool {
	_, ok := c.billPaymentRule(description, category)
	return ok
}

func (c *Classifier) billPaymentRule(description, category string) (string, bool) {
	if c.paymentCategories[Normalize(category)] {
		return "category:" + Normalize(category), true
	}
	tokens := Tokens(description)
	name, ok := firstMatch(c.payments, tokens)
	if !ok {
		return "", false
	}
	if _, excluded := firstMatch(c.paymentExclusions, tokens); excluded {
		return "", false
	}
	return name, true
}

// IsRefund reports whether tx credits a prior purchase back. Expense-type
// transactions are never refunds, whatever their wording.
func (c *Classifier) IsRefund(tx domain.Transaction) bool {
	_, ok := c.refundRule(tx)
	return ok
}

func (c *Classifier) refundRule(tx domain.Transaction) (string, bool) {
	if domain.NormalizeType(tx.Type) != domain.TypeIncome {
		return "", false
	}
	if tx.IsRefund != nil {
		return "flag:isRefund", *tx.IsRefund
	}
	if c.refundCategories[Normalize(tx.Category)] {
		return "category:" + Normalize(tx.Category), true
	}
	return firstMatch(c.refunds, Tokens(tx.Description))
}

// Classify decides the kind of tx. Precedence: explicit isPayment flag, bill
// payment rules, refund rules, expense type. Anything left is counted as a
// purchase and flagged ambiguous, since under-counting a bill is worse than
// over-counting it.
func (c *Classifier) Classify(tx domain.Transaction) Result {
	if tx.IsPayment != nil {
		if *tx.IsPayment {
			return Result{Kind: domain.KindPayment, Rule: "flag:isPayment"}
		}
	} else if rule, ok := c.billPaymentRule(tx.Description, tx.Category); ok {
		return Result{Kind: domain.KindPayment, Rule: rule}
	}

	if rule, ok := c.refundRule(tx); ok {
		return Result{Kind: domain.KindRefund, Rule: rule}
	}

	if domain.NormalizeType(tx.Type) == domain.TypeExpense {
		return Result{Kind: domain.KindPurchase, Rule: "type:expense"}
	}
	return Result{Kind: domain.KindPurchase, Ambiguous: true, Rule: "fallback:" + strings.ToLower(strings.TrimSpace(tx.Type))}
}

// IsBillPayment applies the default rules.
func IsBillPayment(description, category string) bool {
	return defaultClassifier.IsBillPayment(description, category)
}

// IsRefund applies the default rules.
func IsRefund(tx domain.Transaction) bool {
	return defaultClassifier.IsRefund(tx)
}
