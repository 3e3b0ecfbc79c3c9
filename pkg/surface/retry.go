package surface

import (
	"context"
	"errors"
	"fmt"

	"github.com/odysseyhq/odyssey/pkg/backoff"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// ProposeWithRetry retries a Propose while the persistence layer reports a
// transient outage. Sequence and capability violations are contract errors
// and are never retried. Safe because Propose is idempotent under the
// transition's idempotency key.
func ProposeWithRetry(ctx context.Context, s Surface, t Transition, policy backoff.Policy) (Record, error) {
	var rec Record
	key := fmt.Sprintf("propose:%s:%d", t.ExecutionID, t.SequenceNo)
	err := backoff.Retry(ctx, policy, key,
		func(err error) bool { return errors.Is(err, contracts.ErrStorageUnavailable) },
		func() error {
			var perr error
			rec, perr = s.Propose(ctx, t)
			return perr
		})
	return rec, err
}
