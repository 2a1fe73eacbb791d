package session

import (
	"github.com/hfi/kvmd-client/internal/audit"
	"github.com/hfi/kvmd-client/internal/kvmd"
	"github.com/hfi/kvmd-client/internal/metrics"
)

// DefaultRetryBudget is the number of second-factor retries an
// operation gets unless configured otherwise
const DefaultRetryBudget = 1

// WithSecondFactorRetry runs op against a pooled connection, retrying
// it when the device rejected the request because the one-time code
// crossed its window boundary in flight. Before each retry the
// connection's header credentials are recomputed with a forced fresh
// code. Every other failure, including plain credential rejections,
// propagates unchanged on the first attempt.
func WithSecondFactorRetry(conn *kvmd.Client, trail *audit.Trail, budget int, op func() error) error {
	for {
		err := op()
		if err == nil {
			return nil
		}

		if !kvmd.IsSecondFactorExpired(err) || budget <= 0 {
			return err
		}
		budget--

		metrics.SecondFactorRetriesTotal.Inc()
		trail.Record(audit.Event{
			Type:         audit.EventSecondFactorRetry,
			Host:         conn.Hostname(),
			User:         conn.Username(),
			ConnectionID: conn.ID(),
			Error:        err.Error(),
		})

		if rerr := conn.RefreshAuth(); rerr != nil {
			return rerr
		}
	}
}
