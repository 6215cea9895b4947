package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

type namedFunc struct {
	name string
	fn   CompleterFunc
}

func (n namedFunc) Name() string { return n.name }

func (n namedFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return n.fn(ctx, prompt)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) ObserveLLMCall(tier string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "fail"
	if success {
		status = "ok"
	}
	r.events = append(r.events, tier+":"+status)
}

func noSleep(t *TieredCompleter) *TieredCompleter {
	t.sleep = func(context.Context, time.Duration) error { return nil }
	return t
}

func TestTieredRetriesThenSucceeds(t *testing.T) {
	calls := 0
	primary := namedFunc{name: "primary", fn: func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("502")
		}
		return "hola", nil
	}}
	obs := &recordingObserver{}
	c := noSleep(NewTieredCompleter(TieredOptions{MaxRetries: 1, Observer: obs}, primary))

	text, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "hola", text)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"primary:fail", "primary:ok"}, obs.events)
}

func TestTieredFallsBack(t *testing.T) {
	primary := namedFunc{name: "primary", fn: func(context.Context, string) (string, error) { return "", errors.New("down") }}
	fallback := namedFunc{name: "fallback", fn: func(context.Context, string) (string, error) { return "respaldo", nil }}
	obs := &recordingObserver{}
	c := noSleep(NewTieredCompleter(TieredOptions{MaxRetries: 1, Observer: obs}, primary, nil, fallback))

	text, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "respaldo", text)
	assert.Equal(t, []string{"primary:fail", "primary:fail", "fallback:ok"}, obs.events)
	assert.Equal(t, "tiered:primary:fallback", c.Name())
}

func TestTieredTransportErrorAfterAllTiers(t *testing.T) {
	down := CompleterFunc(func(context.Context, string) (string, error) { return "", errors.New("down") })
	c := noSleep(NewTieredCompleter(TieredOptions{MaxRetries: 1}, down))
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrLLMTransport))
	assert.Equal(t, appErrors.ClassTransport, appErrors.ClassOf(err))
}

func TestTieredEmptyResponseIsFailure(t *testing.T) {
	empty := CompleterFunc(func(context.Context, string) (string, error) { return "", nil })
	c := noSleep(NewTieredCompleter(TieredOptions{}, empty))
	_, err := c.Complete(context.Background(), "p")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestTieredReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := noSleep(NewTieredCompleter(TieredOptions{MaxRetries: 3}, blocking))
	_, err := c.Complete(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, appErrors.ErrLLMTransport))
}

func TestTieredTimeoutPerAttempt(t *testing.T) {
	slow := CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	c := noSleep(NewTieredCompleter(TieredOptions{Timeout: 10 * time.Millisecond}, slow))
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, appErrors.ErrLLMTransport))
}

func TestTieredWithoutTiers(t *testing.T) {
	_, err := NewTieredCompleter(TieredOptions{}).Complete(context.Background(), "p")
	assert.True(t, errors.Is(err, appErrors.ErrLLMTransport))
}
