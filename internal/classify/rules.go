package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule matches when every term occurs in the text. A term may be a single
// word or a phrase of contiguous words.
type Rule struct {
	Name  string   `yaml:"name"`
	AllOf []string `yaml:"all_of"`
}

// Rules is the matching policy of a Classifier. Keyword rules match
// descriptions; categories match the whole normalized category label.
type Rules struct {
	PaymentRules      []Rule   `yaml:"payment_rules"`
	PaymentCategories []string `yaml:"payment_categories"`
	PaymentExclusions []Rule   `yaml:"payment_exclusions"`
	RefundRules       []Rule   `yaml:"refund_rules"`
	RefundCategories  []string `yaml:"refund_categories"`
}

// DefaultRules returns the pt-BR and en rule pack. Payment rules always pair
// a payment word with a bill word so that merchants such as "PGTO LOJA XYZ"
// or "PAG*Fulano" stay purchases.
func DefaultRules() Rules {
	return Rules{
		PaymentRules: []Rule{
			{Name: "pagamento-fatura", AllOf: []string{"pagamento", "fatura"}},
			{Name: "pgto-fatura", AllOf: []string{"pgto", "fatura"}},
			{Name: "pagto-fatura", AllOf: []string{"pagto", "fatura"}},
			{Name: "pag-fatura", AllOf: []string{"pag", "fatura"}},
			{Name: "pagamento-cartao", AllOf: []string{"pagamento", "cartao"}},
			{Name: "pgto-cartao", AllOf: []string{"pgto", "cartao"}},
			{Name: "pagamento-recebido", AllOf: []string{"pagamento recebido"}},
			{Name: "pagamento-efetuado", AllOf: []string{"pagamento efetuado"}},
			{Name: "inclusao-pagamento", AllOf: []string{"inclusao de pagamento"}},
			{Name: "payment-invoice", AllOf: []string{"payment", "invoice"}},
			{Name: "bill-payment", AllOf: []string{"bill payment"}},
			{Name: "payment-thank-you", AllOf: []string{"payment", "thank you"}},
			{Name: "autopay", AllOf: []string{"autopay"}},
		},
		PaymentCategories: []string{
			"credit card payment",
			"pagamento de cartao",
			"pagamento de cartao de credito",
			"pagamento de fatura",
			"transfer credit card",
		},
		PaymentExclusions: []Rule{
			{Name: "estorno", AllOf: []string{"estorno"}},
			{Name: "juros", AllOf: []string{"juros"}},
			{Name: "encargos", AllOf: []string{"encargos"}},
			{Name: "iof", AllOf: []string{"iof"}},
			{Name: "multa", AllOf: []string{"multa"}},
			{Name: "tarifa", AllOf: []string{"tarifa"}},
			{Name: "anuidade", AllOf: []string{"anuidade"}},
		},
		RefundRules: []Rule{
			{Name: "estorno", AllOf: []string{"estorno"}},
			{Name: "reembolso", AllOf: []string{"reembolso"}},
			{Name: "devolucao", AllOf: []string{"devolucao"}},
			{Name: "refund", AllOf: []string{"refund"}},
			{Name: "cashback", AllOf: []string{"cashback"}},
			{Name: "chargeback", AllOf: []string{"chargeback"}},
			{Name: "credito-compra", AllOf: []string{"credito", "compra"}},
			{Name: "ajuste-credito", AllOf: []string{"ajuste", "credito"}},
		},
		RefundCategories: []string{
			"refund",
			"refunds",
			"reembolso",
			"estorno",
		},
	}
}

// LoadRules reads a YAML rule pack. Sections missing from the file keep
// their defaults; sections present replace them.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule pack on top of DefaultRules.
func ParseRules(data []byte) (Rules, error) {
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	for _, set := range [][]Rule{rules.PaymentRules, rules.PaymentExclusions, rules.RefundRules} {
		for _, r := range set {
			if len(r.AllOf) == 0 {
				return Rules{}, fmt.Errorf("rule %q has no terms", r.Name)
			}
		}
	}
	return rules, nil
}
