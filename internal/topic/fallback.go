package topic

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Fallback asks Primary within Timeout and otherwise asks Secondary.
// Production wiring always puts a Bank in Secondary.
type Fallback struct {
	Primary   Provider
	Secondary Provider
	Timeout   time.Duration
	Log       *zap.Logger
}

func (f Fallback) RequestTopic(ctx context.Context) (Topic, error) {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	res := Request(ctx, f.Primary, timeout)
	switch res.Outcome {
	case OutcomeOK:
		return res.Topic, nil
	case OutcomeTimedOut:
		log.Warn("topic provider timed out, using fallback", zap.Duration("timeout", timeout))
	case OutcomeProviderError:
		log.Warn("topic provider failed, using fallback", zap.Error(res.Err))
	}
	if err := ctx.Err(); err != nil {
		return Topic{}, err
	}
	return f.Secondary.RequestTopic(ctx)
}
