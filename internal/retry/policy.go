// Package retry decides whether a failed transfer is attempted again and after
// how long.
package retry

import (
	"errors"
	"math"
	"time"

	"asset-harvester/internal/model"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultFactor      = 2.0
	DefaultMaxDelay    = 60 * time.Second
)

type Action int

const (
	GiveUp Action = iota
	RetryAfter
)

func (a Action) String() string {
	if a == RetryAfter {
		return "retry"
	}
	return "give_up"
}

type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Factor:      DefaultFactor,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Backoff returns the delay before the attempt following attempt n (n >= 1).
func (p Policy) Backoff(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempts-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// OnFailure is called after an attempt failed. The item's Attempts already
// counts the failed attempt.
func (p Policy) OnFailure(item model.Item, err error) Decision {
	p = p.normalized()
	if item.Attempts >= p.MaxAttempts {
		return Decision{Action: GiveUp, Reason: "max_attempts_reached"}
	}
	if IsPermanent(err) {
		return Decision{Action: GiveUp, Reason: "permanent_error"}
	}
	return Decision{Action: RetryAfter, Delay: p.Backoff(item.Attempts), Reason: "transient_error"}
}

// StatusCoder is implemented by errors that carry a remote status code.
type StatusCoder interface {
	StatusCode() int
}

// IsPermanent reports errors that retrying within the same run cannot fix.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrCredential) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 408 || code == 429 {
			return false
		}
		return code >= 400 && code < 500
	}
	return false
}
