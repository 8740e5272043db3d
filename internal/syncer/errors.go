package syncer

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired    = errors.New("item name is required")
	ErrMessageRequired = errors.New("message body is required")
	ErrItemNotFound    = errors.New("item not found")
	ErrNotStatusType   = errors.New("message type carries no status transition")
)

// PartialError reports that one of two dependent remote writes succeeded
// while the other did not. There is no compensating rollback; the state
// is visibly inconsistent until a later write or refresh converges it.
type PartialError struct {
	Op     string // operation that split, e.g. "add-message"
	ItemID string
	Err    error // failure of the second write
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s %s: partial failure: %v", e.Op, e.ItemID, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// IsPartial reports whether err is a partial-failure error.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}
