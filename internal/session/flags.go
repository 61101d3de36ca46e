package session

import "strings"

// Flags is the set of control signals waiting to be sent.
type Flags uint8

const (
	FlagStart Flags = 1 << iota
	FlagStop
	FlagConnect
	FlagDisconnect
	FlagHeartbeat
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagStart, "start"},
	{FlagStop, "stop"},
	{FlagConnect, "connect"},
	{FlagDisconnect, "disconnect"},
	{FlagHeartbeat, "heartbeat"},
}

func (f *Flags) Set(v Flags) { *f |= v }
func (f *Flags) Clear(v Flags) { *f &^= v }
func (f Flags) Has(v Flags) bool { return f&v == v }
func (f Flags) Any() bool { return f != 0 }
func (f Flags) Keep(mask Flags) Flags { return f & mask }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
