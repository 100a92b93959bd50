package platform

// FrameType identifies the kind of frame exchanged with the platform.
type FrameType string

const (
	// Inbound (platform -> worker).
	FrameSessionCreated FrameType = "session.created"
	FrameSessionUpdated FrameType = "session.updated"
	FrameSessionEnded   FrameType = "session.ended"

	// Outbound (worker -> platform).
	FrameJoin  FrameType = "join"
	FrameSay   FrameType = "say"
	FrameLeave FrameType = "leave"
)

// Frame is the envelope exchanged with the conversation platform over
// the WebSocket feed. Fields are populated per Type.
type Frame struct {
	Type        FrameType         `json:"type"`
	Session     string            `json:"session,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`     // session.created
	Occupancy   int               `json:"occupancy,omitempty"`    // session.created, session.updated
	DisplayName string            `json:"display_name,omitempty"` // join
	Voice       string            `json:"voice,omitempty"`        // join
	Text        string            `json:"text,omitempty"`         // say
}
