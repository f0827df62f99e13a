// Package events defines the publish-subscribe backbone connecting the
// game server to telemetry and other observers.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Account and connection events
	EventPlayerRegistered   EventType = "player_registered"
	EventPlayerLoggedIn     EventType = "player_logged_in"
	EventPlayerDisconnected EventType = "player_disconnected"

	// Matchmaking events
	EventQueueJoined  EventType = "queue_joined"
	EventQueueLeft    EventType = "queue_left"
	EventMatchStarted EventType = "match_started"

	// Match lifecycle events
	EventMatchCompleted EventType = "match_completed"
	EventMatchPaused    EventType = "match_paused"
	EventReplaySaved    EventType = "replay_saved"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload accompanies account and connection events.
type PlayerPayload struct {
	Username string
	Elo      int
}

// MatchStartedPayload accompanies EventMatchStarted.
type MatchStartedPayload struct {
	Player1  string
	Player2  string
	AIMatch  bool
	ViaQueue bool
}

// MatchCompletedPayload accompanies EventMatchCompleted.
type MatchCompletedPayload struct {
	Winner     string
	Loser      string
	Cause      EndCause
	EloDelta   int
	ReplayFile string
}

// ReplaySavedPayload accompanies EventReplaySaved.
type ReplaySavedPayload struct {
	File   string
	Winner string
	Loser  string
}

// EndCause classifies how a match concluded.
type EndCause int

const (
	EndCauseDeath EndCause = iota
	EndCauseResignation
	EndCauseTimeout
	EndCauseDisconnect
)

// endCauseStrings maps EndCause values to their JSON string representation.
var endCauseStrings = map[EndCause]string{
	EndCauseDeath:       "death",
	EndCauseResignation: "resignation",
	EndCauseTimeout:     "timeout",
	EndCauseDisconnect:  "disconnect",
}

// String returns the string representation of EndCause.
func (c EndCause) String() string {
	if str, ok := endCauseStrings[c]; ok {
		return str
	}
	return "death"
}

// MarshalJSON serializes EndCause as a JSON string (e.g. "resignation").
func (c EndCause) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// QueuePayload accompanies queue events.
type QueuePayload struct {
	Username string
	Depth    int
}
