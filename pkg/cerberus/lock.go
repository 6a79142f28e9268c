package cerberus

import "context"

// Lock is a mutual exclusion primitive held for the duration of one run.
type Lock interface {
	// Acquire takes the lock without waiting. The returned release func must
	// be called on every exit path.
	Acquire(ctx context.Context) (release func() error, err error)
}

// NopLock always succeeds.
type NopLock struct{}

func (NopLock) Acquire(ctx context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// Multi acquires every lock in order and releases them in reverse.
type Multi []Lock

func (m Multi) Acquire(ctx context.Context) (func() error, error) {
	releases := make([]func() error, 0, len(m))
	releaseAll := func() error {
		var first error
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, l := range m {
		release, err := l.Acquire(ctx)
		if err != nil {
			_ = releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
