// Package cerberus guards the boot partition so that only one reconciliation
// runs at a time.
//
// Cerberus lets exactly one soul through the gate. Two heads are provided:
//   - FileLock: flock(2) on a local lock file, for a single host
//   - RedisLock: SET NX with an expiry, for hosts sharing a boot partition
//     or a fleet-wide maintenance window
//
// A third, NopLock, lets everything pass; it stands in when locking is
// switched off.
//
// # Basic Usage
//
//	lock := cerberus.NewFileLock("/run/elysium.lock")
//	release, err := lock.Acquire(ctx)
//	if err != nil {
//	    return err // cerberus.ErrLocked if another run holds it
//	}
//	defer release()
package cerberus
