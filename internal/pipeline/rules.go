// Package pipeline implements the multi-phase decision process that turns a
// raw message into either a registered transaction or a pending confirmation.
package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/br"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/granabot/grana/internal/index"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/provider"
)

// amountPatterns is a cascade tried in order: explicit currency marks first,
// then currency words, then bare decimals, then bare integers. The first
// pattern that matches wins.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)R\$\s*([\d.,]+)`),
	regexp.MustCompile(`[$€£]\s*([\d.,]+)`),
	regexp.MustCompile(`(?i)([\d.,]+)\s*(?:reais|real|dollars?|dolares?|euros?|bucks)`),
	regexp.MustCompile(`(\d+[.,]\d{1,2})(?:\s|$)`),
	regexp.MustCompile(`(?:^|\s)(\d+)(?:\s|$)`),
}

// explicitDatePattern catches numeric dates the temporal parser does not.
var explicitDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4})\b`)

// incomeKeywords flag a message as income in either language. Folded form,
// matched against folded message tokens. Everything else defaults to expense.
var incomeKeywords = map[string]bool{
	"recebi":    true,
	"recebido":  true,
	"recebida":  true,
	"salario":   true,
	"renda":     true,
	"ganhei":    true,
	"deposito":  true,
	"entrada":   true,
	"received":  true,
	"salary":    true,
	"income":    true,
	"deposit":   true,
	"paycheck":  true,
	"earned":    true,
	"reembolso": true,
	"refund":    true,
}

// dateParser resolves natural-language temporal expressions in English and
// Brazilian Portuguese ("yesterday", "ontem", "last friday").
var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(br.All...)
	w.Add(common.All...)
	return w
}()

// RuleExtract derives amount, type and date from a message without calling a
// provider. It reports false when no amount can be found; the fast path is
// only viable when the cheap extraction is complete.
func RuleExtract(text string, now time.Time) (model.ExtractionResult, bool) {
	amount, ok := ruleAmount(text)
	if !ok {
		return model.ExtractionResult{}, false
	}

	return model.ExtractionResult{
		Type:        ruleType(text),
		Amount:      amount,
		Description: strings.TrimSpace(text),
		Date:        ruleDate(text, now),
	}, true
}

func ruleAmount(text string) (float64, bool) {
	for _, pattern := range amountPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if amount := provider.ParseAmount(m[1]); amount > 0 {
			return amount, true
		}
	}
	return 0, false
}

func ruleType(text string) model.TransactionType {
	for _, tok := range index.Tokenize(text) {
		if incomeKeywords[tok] {
			return model.TypeIncome
		}
	}
	return model.TypeExpense
}

// ruleDate resolves an explicit or natural-language date, falling back to now.
func ruleDate(text string, now time.Time) time.Time {
	if m := explicitDatePattern.FindString(text); m != "" {
		if d := provider.ParseDate(m); !d.IsZero() {
			return d
		}
	}

	if r, err := dateParser.Parse(text, now); err == nil && r != nil {
		return r.Time
	}

	return now
}
