package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"asset-harvester/internal/model"
)

type codeErr int

func (c codeErr) Error() string { return fmt.Sprintf("http status %d", int(c)) }
func (c codeErr) StatusCode() int { return int(c) }

func TestBackoff_ExponentialAndCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 2 * time.Second, Factor: 2, MaxDelay: 10 * time.Second}

	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 10*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(500))
}

func TestOnFailure_RetriesUntilMaxAttempts(t *testing.T) {
	p := DefaultPolicy()
	transient := fmt.Errorf("read: connection reset by peer")

	d := p.OnFailure(model.Item{Attempts: 1}, transient)
	assert.Equal(t, RetryAfter, d.Action)
	assert.Equal(t, 2*time.Second, d.Delay)

	d = p.OnFailure(model.Item{Attempts: 2}, transient)
	assert.Equal(t, RetryAfter, d.Action)
	assert.Equal(t, 4*time.Second, d.Delay)

	d = p.OnFailure(model.Item{Attempts: 3}, transient)
	assert.Equal(t, GiveUp, d.Action)
	assert.Equal(t, "max_attempts_reached", d.Reason)
}

func TestOnFailure_PermanentErrors(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, GiveUp, p.OnFailure(model.Item{Attempts: 1}, codeErr(404)).Action)
	assert.Equal(t, GiveUp, p.OnFailure(model.Item{Attempts: 1}, model.Wrap(model.ErrCredential, "x", nil)).Action)
	assert.Equal(t, RetryAfter, p.OnFailure(model.Item{Attempts: 1}, codeErr(429)).Action)
	assert.Equal(t, RetryAfter, p.OnFailure(model.Item{Attempts: 1}, codeErr(503)).Action)
	assert.Equal(t, RetryAfter, p.OnFailure(model.Item{Attempts: 1}, fmt.Errorf("wrapped: %w", codeErr(500))).Action)
}

func TestNormalizedDefaults(t *testing.T) {
	var p Policy
	d := p.OnFailure(model.Item{Attempts: 1}, fmt.Errorf("timeout"))
	assert.Equal(t, RetryAfter, d.Action)
	assert.Equal(t, DefaultBaseDelay, d.Delay)
	assert.Equal(t, GiveUp, p.OnFailure(model.Item{Attempts: DefaultMaxAttempts}, fmt.Errorf("timeout")).Action)
}
