package peer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSender = errors.New("invalid sender")
	ErrNoBus         = errors.New("no inbound bus")
	ErrInvalidData   = errors.New("data is invalid")
	ErrNoTarget      = errors.New("no target to post to")
	ErrTimeout       = errors.New("request timed out")
	ErrCanceled      = errors.New("request canceled")
)

// Rejection lets a handler choose the exact payload sent back when it fails.
// Any other error is sent back as its message string.
type Rejection struct {
	Value any
}

// Reject returns a handler error whose reply payload is v.
func Reject(v any) error {
	return &Rejection{Value: v}
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("request rejected: %v", r.Value)
}
