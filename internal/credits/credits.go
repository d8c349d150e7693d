// Package credits computes the credit awarded for a saved conversation.
package credits

import (
	"os"
	"strconv"
	"strings"
)

// Award tuning. Overridable via environment variables so the award schedule
// can change without a redeploy.
var (
	// BaseCredit is awarded once for any saved conversation.
	BaseCredit = getEnvInt("CREDIT_BASE", 10)

	// PerExchangeCredit is awarded for each confirmed exchange.
	PerExchangeCredit = getEnvInt("CREDIT_PER_EXCHANGE", 5)

	// WordBonusThreshold is the response word count above which an exchange
	// earns the depth bonus.
	WordBonusThreshold = getEnvInt("CREDIT_WORD_BONUS_THRESHOLD", 50)

	// WordBonusCredit is the per-exchange depth bonus.
	WordBonusCredit = getEnvInt("CREDIT_WORD_BONUS", 3)

	// MaxCredit caps the award for a single conversation.
	MaxCredit = getEnvInt("CREDIT_MAX", 100)
)

// Metrics contains the conversation facts the award is computed from.
type Metrics struct {
	ExchangeCount      int
	ResponseWordCounts []int
}

// MetricsFromResponses derives award metrics from confirmed response texts.
func MetricsFromResponses(responses []string) Metrics {
	m := Metrics{ExchangeCount: len(responses)}
	for _, r := range responses {
		m.ResponseWordCounts = append(m.ResponseWordCounts, len(strings.Fields(r)))
	}
	return m
}

// CalculateAward computes the credit for one saved conversation.
func CalculateAward(m Metrics) int {
	if m.ExchangeCount == 0 {
		return 0
	}

	award := BaseCredit + m.ExchangeCount*PerExchangeCredit
	for _, words := range m.ResponseWordCounts {
		if words >= WordBonusThreshold {
			award += WordBonusCredit
		}
	}

	if award > MaxCredit {
		award = MaxCredit
	}
	return award
}

// getEnvInt returns an environment variable as int, or the default if not set.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
