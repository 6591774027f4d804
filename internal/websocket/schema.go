package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing    Action = "ping"
	ActionRefresh Action = "refresh"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventStatus Event = "status"
	EventClosed Event = "session_closed"
	EventPong   Event = "pong"
)

// StatusEvent carries a user's proctoring status for a module. It is also
// the payload published on the module's Redis channel.
type StatusEvent struct {
	Event    Event  `json:"event"`
	CourseID int    `json:"course_id"`
	ModuleID int    `json:"module_id"`
	UserID   int    `json:"user_id"`
	Code     int    `json:"code"`
	Status   string `json:"status"`
	// Source is "poll", "start", "close" or "refresh".
	Source string `json:"source"`
	At     int64  `json:"at"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
