// Package topic supplies the secret word for a round.
//
// Every provider may be slow or fail. Request bounds a single call and
// reports how it ended; Fallback turns that outcome into a second attempt
// against a provider that cannot fail, so the host always gets a topic.
package topic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/impostor/internal/engine"
)

var ErrTimedOut = errors.New("topic request timed out")
var ErrInvalidTopic = errors.New("invalid topic")

// DefaultTimeout bounds a primary provider before the fallback takes over.
const DefaultTimeout = 5 * time.Second

type Topic struct {
	Category string `json:"category"`
	Topic    string `json:"topic"`
}

func (t Topic) Round() engine.RoundData {
	return engine.RoundData{Category: t.Category, Topic: t.Topic}
}

func (t Topic) validate() error {
	if strings.TrimSpace(t.Category) == "" || strings.TrimSpace(t.Topic) == "" {
		return fmt.Errorf("%w: %+v", ErrInvalidTopic, t)
	}
	return nil
}

type Provider interface {
	RequestTopic(ctx context.Context) (Topic, error)
}

type ProviderFunc func(ctx context.Context) (Topic, error)

func (f ProviderFunc) RequestTopic(ctx context.Context) (Topic, error) { return f(ctx) }

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTimedOut
	OutcomeProviderError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeProviderError:
		return "provider_error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the settled state of one bounded request. Topic is only set
// when Outcome is OutcomeOK.
type Result struct {
	Topic   Topic
	Outcome Outcome
	Err     error
}

// Request calls p and waits at most timeout for it. A timeout of zero or
// less waits for as long as ctx allows. The provider keeps running in the
// background after a timeout; its late answer is discarded.
func Request(ctx context.Context, p Provider, timeout time.Duration) Result {
	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type answer struct {
		t   Topic
		err error
	}
	done := make(chan answer, 1)
	go func() {
		t, err := p.RequestTopic(reqCtx)
		done <- answer{t, err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			return Result{Outcome: OutcomeProviderError, Err: a.err}
		}
		if err := a.t.validate(); err != nil {
			return Result{Outcome: OutcomeProviderError, Err: err}
		}
		return Result{Topic: a.t, Outcome: OutcomeOK}
	case <-reqCtx.Done():
		if err := ctx.Err(); err != nil {
			return Result{Outcome: OutcomeProviderError, Err: err}
		}
		return Result{Outcome: OutcomeTimedOut, Err: ErrTimedOut}
	}
}
