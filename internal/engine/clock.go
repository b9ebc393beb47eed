package engine

import "time"

// Clock abstracts wall-clock reads so cycle logic can be tested with a
// fixed or stepped time source.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns a Clock backed by the system time in UTC.
func NewClock() Clock { return realClock{} }
