// Package metadata builds the device description sent with a successful
// connect acknowledgment.
package metadata

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// MaxLen is the largest metadata payload accepted.
const MaxLen = 255

// Library version reported as deviceSdkVersion. Overridden at link time.
var (
	VersionMajor = 1
	VersionMinor = 0
	VersionBuild = 0
	VersionLabel = ""
)

// Info describes the device and the application embedding the engine.
type Info struct {
	HardwareName string
	AppName      string
	Company      string
	AppMajor     int
	AppMinor     int
}

// HostInfo fills Info for the machine the process runs on.
func HostInfo(appName, company string, major, minor int) Info {
	return Info{
		HardwareName: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		AppName:      appName,
		Company:      company,
		AppMajor:     major,
		AppMinor:     minor,
	}
}

// Metadata is an immutable, pre-serialized JSON document.
type Metadata struct {
	raw []byte
}

type document struct {
	HardwareName string `json:"deviceHardwareName"`
	AppID        string `json:"deviceAppId"`
	AppVersion   string `json:"deviceAppVersion"`
	SDKVersion   string `json:"deviceSdkVersion"`
}

// SDKVersion formats the library version as "major.minor.build[ label]".
func SDKVersion() string {
	v := fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionBuild)
	if VersionLabel != "" {
		v += " " + VersionLabel
	}
	return v
}

// Build serializes info. It fails when the document exceeds MaxLen bytes.
func Build(info Info) (Metadata, error) {
	hw := info.HardwareName
	if hw == "" {
		hw = "unknown"
	}
	doc := document{
		HardwareName: hw,
		AppID:        fmt.Sprintf("%s (%s)", info.AppName, info.Company),
		AppVersion:   fmt.Sprintf("%d.%d", info.AppMajor, info.AppMinor),
		SDKVersion:   SDKVersion(),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal metadata: %w", err)
	}
	if len(raw) > MaxLen {
		return Metadata{}, fmt.Errorf("metadata is %d bytes, limit is %d", len(raw), MaxLen)
	}
	return Metadata{raw: raw}, nil
}

// Bytes returns a copy of the serialized document.
func (m Metadata) Bytes() []byte {
	return append([]byte(nil), m.raw...)
}

func (m Metadata) Len() int { return len(m.raw) }

func (m Metadata) String() string { return string(m.raw) }
