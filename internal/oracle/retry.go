package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// RetryingOracle wraps another Oracle with exponential backoff. Empty
// responses and context cancellation are not retried; everything else is
// treated as transient.
type RetryingOracle struct {
	inner   Oracle
	retry   config.RetryConfig
	site    string
	log     logger.Logger
	metrics *metrics.Metrics
}

// WithRetry wraps an oracle with backoff behavior. The site label is used
// for metrics so retrieval, judging and snapshot generation can be told
// apart.
func WithRetry(inner Oracle, retry config.RetryConfig, site string, log logger.Logger, m *metrics.Metrics) *RetryingOracle {
	return &RetryingOracle{
		inner:   inner,
		retry:   retry,
		site:    site,
		log:     log,
		metrics: m,
	}
}

// Name identifies the wrapped provider.
func (o *RetryingOracle) Name() string {
	return o.inner.Name()
}

// Generate calls the wrapped oracle, retrying transient failures with
// exponential backoff and jitter.
func (o *RetryingOracle) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.backoffFor(attempt)
			o.log.Warn("Retrying oracle call",
				logger.StringField("site", o.site),
				logger.IntField("attempt", attempt+1),
				logger.DurationField("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		o.metrics.OracleCallsCounter.WithLabelValues(o.site).Inc()
		text, err := o.inner.Generate(ctx, req)
		if err == nil {
			return text, nil
		}

		o.metrics.OracleFailuresCounter.WithLabelValues(o.site).Inc()
		lastErr = err

		if errors.Is(err, ErrEmptyResponse) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("oracle call failed after %d retries: %w", o.retry.MaxRetries, lastErr)
}

// backoffFor doubles the initial backoff per attempt, capped at MaxBackoff,
// with up to 50% jitter to avoid synchronized retries.
func (o *RetryingOracle) backoffFor(attempt int) time.Duration {
	base := o.retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		base *= 2
		if base >= o.retry.MaxBackoff {
			base = o.retry.MaxBackoff
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}
