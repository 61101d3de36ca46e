package protocol

import "fmt"

// Key identifies a tuple inside a Message.
type Key uint32

// Reserved message keys. The namespace starts at 0x464D0000 ("FM").
const (
	KeyStart Key = 0x464D0000 + iota
	KeyStop
	KeySensorData
	KeyMetadata
	KeySensorOffset
	KeyConnect
	KeyDisconnect
	KeyResend
	KeySensorRate
	KeyHeartbeat

	keyEnd
)

// ProtocolVersion is the wire protocol version this engine speaks.
const ProtocolVersion uint16 = 3

var keyNames = map[Key]string{
	KeyStart:        "START",
	KeyStop:         "STOP",
	KeySensorData:   "SENSOR_DATA",
	KeyMetadata:     "METADATA",
	KeySensorOffset: "SENSOR_OFFSET",
	KeyConnect:      "CONNECT",
	KeyDisconnect:   "DISCONNECT",
	KeyResend:       "RESEND",
	KeySensorRate:   "SENSOR_RATE",
	KeyHeartbeat:    "HEARTBEAT",
}

// Reserved reports whether k belongs to the engine's key namespace.
func (k Key) Reserved() bool {
	return k >= KeyStart && k < keyEnd
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(k))
}

// VersionWord packs an application version and a protocol version into the
// 32-bit word carried by CONNECT requests and mismatch acknowledgments.
func VersionWord(app, proto uint16) uint32 {
	return uint32(app)<<16 | uint32(proto)
}

// SplitVersion is the inverse of VersionWord.
func SplitVersion(word uint32) (app, proto uint16) {
	return uint16(word >> 16), uint16(word & 0xFFFF)
}

// AckWord is the CONNECT value acknowledging a successful connect.
func AckWord(connectionID uint16) uint32 {
	return uint32(connectionID) << 16
}
