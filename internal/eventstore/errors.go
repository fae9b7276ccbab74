package eventstore

import (
	"errors"
	"fmt"

	"clinicore/pkg/domain"
)

// VersionConflictError reports an optimistic-concurrency failure: the
// envelope's aggregate_version was not the next contiguous version for its
// stream (INV-XX-3). The command handler absorbs it into the retry loop;
// the sync engine routes it into conflict resolution.
type VersionConflictError struct {
	Key      StreamKey
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected %d, got %d (%s)",
		e.Key.AggregateType, domain.AggregateID(e.Key.AggregateID).String(),
		e.Expected, e.Actual, domain.InvVersionContiguous)
}

// IsVersionConflict reports whether err is a version conflict.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// AsVersionConflict extracts the conflict detail when present.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	ok := errors.As(err, &vc)
	return vc, ok
}
