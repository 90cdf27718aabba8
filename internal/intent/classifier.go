// Package intent classifies free-text user messages into the bot's closed
// intent set with ordered, case-insensitive regex rules. Rule order is
// significant: agent-request phrases short-circuit everything else, and the
// financial categories are checked EMI → balance → loan, so a phrase like
// "credit available" resolves toward balance while bare "credit" falls
// through to loan.
//
// The classifier is deliberately deterministic and cheap. When it returns
// IntentUnclear and the caller needs better precision, the caller may ask the
// LLM collaborator for a second pass over the conversation history; that
// result is never fed back into the rule set.
package intent

import (
	"regexp"
	"strings"

	"github.com/finvola/go-support-backend/internal/domain"
)

// Pattern groups, evaluated in declaration order within each group.
var (
	agentPatterns = compileAll(
		`speak.*agent`, `talk.*agent`, `human`, `real person`,
		`customer service`, `representative`, `speak.*person`, `talk.*person`,
		`connect.*agent`, `transfer.*agent`, `live chat`,
		`i need help`, `not.*understand`, `confused`, `complicated`, `complex`, `difficult`,
	)

	emiPatterns = compileAll(
		`\bemi\b`, `installment`, `monthly payment`, `next payment`,
		`payment date`, `when.*due`, `payment.*history`, `recent payment`,
		`amount due`,
	)

	balancePatterns = compileAll(
		`\bbalance\b`, `how much.*account`, `how much.*money`,
		`available funds`, `credit.*available`, `account.*status`,
		`account.*amount`, `funds`,
	)

	loanPatterns = compileAll(
		`\bloan\b`, `principal`, `interest rate`, `borrow`, `lending`,
		`credit`, `tenure`, `loan.*amount`, `loan.*status`, `loan.*type`,
		`apply for loan`, `new loan`,
	)
)

// Button labels rendered by the web and WhatsApp UIs; matched as literal
// substrings after the pattern groups.
var buttonLabels = []struct {
	label  string
	intent domain.Intent
}{
	{"my emi", domain.IntentEMI},
	{"my account balance", domain.IntentBalance},
	{"my loan amount", domain.IntentLoan},
	{"my loan", domain.IntentLoan},
	{"speak to agent", domain.IntentAgentEscalation},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classify maps text to an intent. Empty input is IntentUnclear.
func Classify(text string) domain.Intent {
	msg := strings.ToLower(strings.TrimSpace(text))
	if msg == "" {
		return domain.IntentUnclear
	}

	for _, re := range agentPatterns {
		if re.MatchString(msg) {
			return domain.IntentAgentEscalation
		}
	}
	for _, re := range emiPatterns {
		if re.MatchString(msg) {
			return domain.IntentEMI
		}
	}
	for _, re := range balancePatterns {
		if re.MatchString(msg) {
			return domain.IntentBalance
		}
	}
	for _, re := range loanPatterns {
		if re.MatchString(msg) {
			return domain.IntentLoan
		}
	}
	for _, b := range buttonLabels {
		if strings.Contains(msg, b.label) {
			return b.intent
		}
	}
	return domain.IntentUnclear
}
