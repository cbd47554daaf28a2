// Package channel defines the boundary between the peer protocol and the
// transport it runs on: a send primitive addressed to a target handle, and a
// stream of inbound message events.
package channel

// AnyOrigin places no restriction on the recipient's origin.
const AnyOrigin = "*"

// Target is anything a message can be posted to. targetOrigin restricts
// delivery to a recipient whose origin matches, unless it is AnyOrigin.
type Target interface {
	PostMessage(message string, targetOrigin string) error
}

// Event is one inbound message.
type Event struct {
	Origin string // origin of the poster
	Data   string // raw payload as posted
	Source Target // handle for replying to the poster
}

// Bus delivers inbound events to subscribers, one event at a time.
type Bus interface {
	// Subscribe registers fn and returns a function that removes it.
	// The returned function is safe to call more than once.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// OriginMatches reports whether a message posted with targetOrigin may be
// delivered to a recipient at origin.
func OriginMatches(targetOrigin, origin string) bool {
	return targetOrigin == "" || targetOrigin == AnyOrigin || targetOrigin == origin
}
