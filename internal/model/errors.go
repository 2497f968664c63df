package model

import (
	"errors"
	"fmt"
)

var (
	ErrDiscovery      = errors.New("discovery error")
	ErrTransfer       = errors.New("transfer error")
	ErrPersistence    = errors.New("persistence error")
	ErrCredential     = errors.New("credential error")
	ErrLockContention = errors.New("lock contention")
	ErrConfig         = errors.New("configuration error")
	ErrStoreCorrupt   = errors.New("run state is corrupt")
	ErrNotFound       = errors.New("run state not found")
)

// Error attaches a taxonomy kind and the affected reference to a cause.
type Error struct {
	Kind error
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Ref != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Ref, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Ref != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Ref)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Wrap(kind error, ref string, err error) error {
	return &Error{Kind: kind, Ref: ref, Err: err}
}

// KindName returns the short taxonomy name of err, or "" when unclassified.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredential):
		return "credential"
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrStoreCorrupt):
		return "store_corrupt"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrDiscovery):
		return "discovery"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	default:
		return ""
	}
}
