package protocol

// HelloMsg is a client's first message after connecting.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientID        string `json:"client_id"`
	// Observe-only clients receive surface frames but may not edit.
	Observer bool `json:"observer,omitempty"`
}

// WelcomeMsg acknowledges a HELLO.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	ServerTick      uint64 `json:"server_tick"`
	ChunkSize       int    `json:"chunk_size"`
}

// SurfaceFrameMsg publishes the height fields of the last completed tick.
type SurfaceFrameMsg struct {
	Type    string         `json:"type"`
	Tick    uint64         `json:"tick"`
	Patches []SurfacePatch `json:"patches"`
}

type SurfacePatch struct {
	Patch  uint32       `json:"patch"`
	Region uint32       `json:"region"`
	Y      int          `json:"y"`
	Awake  bool         `json:"awake"`
	Cells  []CellHeight `json:"cells"`
}

type CellHeight struct {
	Pos    [3]int  `json:"pos"`
	Height float64 `json:"h"`
}

// EditMsg is a gameplay-level edit command: a volume source/sink or a
// terrain change. Buffered by the host and applied at the next tick start.
type EditMsg struct {
	Type   string  `json:"type"`
	EditID string  `json:"edit_id"`
	Op     string  `json:"op"`
	Pos    [3]int  `json:"pos"`
	Amount float64 `json:"amount,omitempty"`
	Solid  bool    `json:"solid,omitempty"`
}

// AckMsg reports the outcome of an edit.
type AckMsg struct {
	Type       string  `json:"type"`
	AckFor     string  `json:"ack_for"`
	Accepted   bool    `json:"accepted"`
	Applied    float64 `json:"applied,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
	ServerTick uint64  `json:"server_tick"`
}

// ErrorMsg reports a protocol-level failure.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
