package domain

import "context"

// SessionUpdate is a change notification for a joined session.
type SessionUpdate struct {
	Occupancy int  // participants currently present, excluding the agent
	Ended     bool // the platform closed the session
}

// SessionHandle is a live connection to one claimed session. Handles are
// owned by a single lifecycle goroutine and are not safe for concurrent
// use except where noted.
type SessionHandle interface {
	// Join attaches the agent to the session under the given display
	// name and voice. It must be called before Say.
	Join(ctx context.Context, displayName string, voice VoiceProfile) error

	// Say speaks a line of synthesized audio into the session.
	Say(ctx context.Context, text string) error

	// Occupancy returns the last observed participant count,
	// excluding the agent itself. Safe for concurrent use.
	Occupancy() int

	// Updates delivers occupancy changes and the end-of-session
	// signal. The channel is closed after the session ends or the
	// handle is left.
	Updates() <-chan SessionUpdate

	// Leave detaches from the session and releases the handle.
	// Idempotent.
	Leave(ctx context.Context) error
}

// SessionFeed is the stream of claimable sessions announced by the
// conversation platform. Next blocks until a session is announced, the
// context is canceled, or the feed is closed (ErrPoolStopped).
type SessionFeed interface {
	Next(ctx context.Context) (SessionDescriptor, SessionHandle, error)
	Close() error
}
