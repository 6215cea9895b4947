package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

// Observer receives one event per backend attempt.
type Observer interface {
	ObserveLLMCall(tier string, success bool, duration time.Duration)
}

// TieredOptions configure TieredCompleter.
type TieredOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger
	Observer   Observer
}

// TieredCompleter tries each tier in order. Each attempt has its own timeout;
// transport failures are retried with exponential backoff before falling
// through to the next tier.
type TieredCompleter struct {
	tiers []Completer
	opts  TieredOptions
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTieredCompleter builds the completer. nil tiers are skipped.
func NewTieredCompleter(opts TieredOptions, tiers ...Completer) *TieredCompleter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	var active []Completer
	for _, t := range tiers {
		if t != nil {
			active = append(active, t)
		}
	}
	return &TieredCompleter{tiers: active, opts: opts, sleep: sleepContext}
}

// Name reports the tier chain.
func (t *TieredCompleter) Name() string {
	name := "tiered"
	for _, tier := range t.tiers {
		name += ":" + NameOf(tier)
	}
	return name
}

// Complete implements Completer. Cancellation of ctx is returned as is so
// callers can tell a superseded turn from a transport failure.
func (t *TieredCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if len(t.tiers) == 0 {
		return "", appErrors.Clone(appErrors.ErrLLMTransport, "no language model configured")
	}
	var lastErr error
	for idx, tier := range t.tiers {
		name := NameOf(tier)
		for attempt := 0; attempt <= t.opts.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			text, err := t.attempt(ctx, tier, prompt)
			if err == nil {
				return text, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastErr = err
			t.opts.Logger.Warn("llm call failed",
				zap.String("tier", name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt < t.opts.MaxRetries {
				if err := t.sleep(ctx, t.opts.Backoff<<attempt); err != nil {
					return "", err
				}
			}
		}
		if idx+1 < len(t.tiers) {
			t.opts.Logger.Warn("llm falling back", zap.String("from", name), zap.String("to", NameOf(t.tiers[idx+1])))
		}
	}
	return "", appErrors.Wrap(lastErr, appErrors.ErrLLMTransport.Code, appErrors.ErrLLMTransport.Status, appErrors.ErrLLMTransport.Message)
}

func (t *TieredCompleter) attempt(ctx context.Context, tier Completer, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()
	start := time.Now()
	text, err := tier.Complete(callCtx, prompt)
	if err == nil && text == "" {
		err = ErrEmptyResponse
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("llm timeout after %s: %w", t.opts.Timeout, err)
	}
	if t.opts.Observer != nil {
		t.opts.Observer.ObserveLLMCall(NameOf(tier), err == nil, time.Since(start))
	}
	return text, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
