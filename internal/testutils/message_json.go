package testutils

import (
	"encoding/hex"
	"encoding/json"

	"github.com/srg/motionlink/internal/protocol"
	"github.com/srg/motionlink/internal/samplebuf"
)

// MessageToJSON renders msg as a JSON object keyed by tuple key name.
// Integers become numbers, SENSOR_DATA becomes [[x,y,z],...], METADATA
// is embedded as parsed JSON, STOP becomes [sent, measured] and other byte
// arrays are hex strings.
func MessageToJSON(msg *protocol.Message) string {
	out := map[string]any{}
	msg.Each(func(t protocol.Tuple) bool {
		out[t.Key.String()] = tupleValue(t)
		return true
	})
	return MustJSON(out)
}

func tupleValue(t protocol.Tuple) any {
	switch t.Type {
	case protocol.TypeUint:
		return t.Uint()
	case protocol.TypeInt:
		return t.Int()
	case protocol.TypeCString:
		return t.String()
	}

	switch t.Key {
	case protocol.KeySensorData:
		samples, err := samplebuf.Unpack(t.Value)
		if err != nil {
			return hex.EncodeToString(t.Value)
		}
		rows := make([][3]int16, len(samples))
		for i, s := range samples {
			rows[i] = [3]int16{s.X, s.Y, s.Z}
		}
		return rows
	case protocol.KeyMetadata:
		var doc any
		if err := json.Unmarshal(t.Value, &doc); err == nil {
			return doc
		}
	case protocol.KeyStop:
		if len(t.Value) == 8 {
			return []int32{
				protocol.Tuple{Value: t.Value[:4]}.Int(),
				protocol.Tuple{Value: t.Value[4:]}.Int(),
			}
		}
	}
	return hex.EncodeToString(t.Value)
}
