package fetch

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/weekscan/internal/common"
	"github.com/bobmcallan/weekscan/internal/metrics"
)

// NewBreaker builds the provider circuit breaker. It opens after
// consecutiveFailures transient failures and probes again after openFor.
// Permanent answers (unknown instrument, unsupported batch) count as success.
func NewBreaker(provider string, consecutiveFailures uint32, openFor time.Duration, m *metrics.Registry, logger *common.Logger) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: provider, Timeout: openFor}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= consecutiveFailures
	}
	st.IsSuccessful = func(err error) bool {
		return err == nil || !Retryable(err)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		m.Breaker(name, int(to))
		logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("Provider circuit state changed")
	}
	return gobreaker.NewCircuitBreaker(st)
}
