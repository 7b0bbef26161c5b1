package util

import (
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
)

// ResolvedOp is a batch operation with its final, absolute expiration
type ResolvedOp struct {
	Key      []byte
	Value    []byte
	ExpireAt int64 // unix nanoseconds, 0 = no expiration
	Delete   bool
}

// ExpireLookup returns the current expiration of a live key.
// found must be false for missing or expired keys.
type ExpireLookup func(key []byte) (expireAt int64, found bool, err error)

// pending is the state a key will have once the already resolved part of the batch is applied
type pending struct {
	expireAt int64
	deleted  bool
}

// ResolveBatch turns the relative expiration semantics of a db.Batch (keep, inherit, ttl in
// seconds, absolute unix timestamps) into absolute deadlines.
// Operations that expire at or before now are turned into deletions.
// Earlier operations of the batch are visible to later ones, so a PutInheritTTL after a
// PutWithTTL of the reference key uses the new deadline.
//
// Thread-safety: The caller must make sure that the state seen by lookup does not change
// until the resolved operations are applied.
func ResolveBatch(batch *db.Batch, now time.Time, lookup ExpireLookup) ([]ResolvedOp, error) {
	ops := batch.Ops()
	resolved := make([]ResolvedOp, 0, len(ops))
	state := make(map[string]pending, len(ops))

	// current returns the expiration key will have at this point of the batch
	current := func(key []byte) (int64, bool, error) {
		if p, ok := state[string(key)]; ok {
			return p.expireAt, !p.deleted, nil
		}
		return lookup(key)
	}

	for _, op := range ops {
		var expireAt int64

		switch op.Kind {
		case db.OpDelete:
			resolved = append(resolved, ResolvedOp{Key: op.Key, Delete: true})
			state[string(op.Key)] = pending{deleted: true}
			continue
		case db.OpPut:
			expireAt = 0
		case db.OpPutKeepTTL, db.OpPutInheritTTL:
			ref := op.Key
			if op.Kind == db.OpPutInheritTTL {
				ref = op.Ref
			}
			exp, found, err := current(ref)
			if err != nil {
				return nil, err
			}
			if found {
				expireAt = exp
			}
		case db.OpPutWithTTL:
			if op.Time <= 0 {
				expireAt = now.UnixNano()
			} else {
				expireAt = DeadlineFromTTL(now, op.Time)
			}
		case db.OpPutExpireAt:
			expireAt = DeadlineFromUnix(op.Time)
		}

		// already expired puts are deletions
		if IsExpired(expireAt, now) {
			resolved = append(resolved, ResolvedOp{Key: op.Key, Delete: true})
			state[string(op.Key)] = pending{deleted: true}
			continue
		}

		resolved = append(resolved, ResolvedOp{Key: op.Key, Value: op.Value, ExpireAt: expireAt})
		state[string(op.Key)] = pending{expireAt: expireAt}
	}

	return resolved, nil
}
