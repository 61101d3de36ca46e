package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SamplingRate is an accelerometer sampling frequency in Hz.
type SamplingRate uint8

const (
	Rate10Hz  SamplingRate = 10
	Rate25Hz  SamplingRate = 25
	Rate50Hz  SamplingRate = 50
	Rate100Hz SamplingRate = 100

	DefaultSamplingRate = Rate50Hz
)

// SamplingRates lists the supported rates in ascending order.
var SamplingRates = []SamplingRate{Rate10Hz, Rate25Hz, Rate50Hz, Rate100Hz}

// Valid reports whether r is one of the supported rates.
func (r SamplingRate) Valid() bool {
	switch r {
	case Rate10Hz, Rate25Hz, Rate50Hz, Rate100Hz:
		return true
	}
	return false
}

func (r SamplingRate) String() string {
	return fmt.Sprintf("%dHz", uint8(r))
}

// ParseSamplingRate accepts "50" or "50hz" (case-insensitive).
func ParseSamplingRate(s string) (SamplingRate, error) {
	v := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "hz")
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid sampling rate %q: %w", s, err)
	}
	r := SamplingRate(n)
	if !r.Valid() {
		return 0, fmt.Errorf("%w %q (valid: 10, 25, 50, 100)", ErrInvalidRate, s)
	}
	return r, nil
}

var ErrInvalidRate = errors.New("invalid sampling rate")
