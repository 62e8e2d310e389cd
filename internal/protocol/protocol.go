package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeSurface = "SURFACE"
	TypeEdit    = "EDIT"
	TypeAck     = "ACK"
	TypeError   = "ERROR"
)

// Edit operations.
const (
	OpAddVolume    = "ADD_VOLUME"
	OpRemoveVolume = "REMOVE_VOLUME"
	OpSetBlock     = "SET_BLOCK"
)

// BaseMessage lets us route unknown JSON messages by type. Only the type
// field is decoded here: routing must survive bodies with wrongly typed
// fields so the schema layer can report them properly.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
