package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTickHash  = "TICK_HASH"
)

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Parts requests the per-component breakdown with every hash.
	Parts bool `json:"parts,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Mode            string `json:"mode"`
	SimHz           uint32 `json:"sim_hz"`
	Seed            string `json:"seed"`
	Tick            uint64 `json:"tick"`
	Hash            string `json:"hash,omitempty"`
}

// Server -> Client. Sent every time the host hashes the world.
type TickHashMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Tick            uint64            `json:"tick"`
	Hash            string            `json:"hash"`
	Parts           map[string]string `json:"parts,omitempty"`
}
