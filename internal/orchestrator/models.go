package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"tvplayer-orchestrator/internal/sdk"
)

// ProtocolDASH is the only streaming protocol the player accepts.
const ProtocolDASH = "dash"

// DRMDescription is one entry of a clip's DRM list, as sent by the UI.
type DRMDescription struct {
	Scheme               string            `json:"scheme"`
	LicenceURL           string            `json:"licenceUrl"`
	KeyRequestProperties map[string]string `json:"keyRequestProperties,omitempty"`
}

// Subtitle is an external subtitle track attached to a clip.
type Subtitle struct {
	URL      string `json:"url"`
	Language string `json:"language"`
}

// ClipDefinition is a playable catalog entry. It is treated as immutable
// once handed to SetSource.
type ClipDefinition struct {
	Protocol  string           `json:"type"`
	URL       string           `json:"url"`
	Subtitles []Subtitle       `json:"subtitles,omitempty"`
	DRM       []DRMDescription `json:"drmDatas,omitempty"`
}

var keySystems = map[string]string{
	"playready": "com.microsoft.playready",
	"widevine":  "com.widevine.alpha",
}

// KeySystem maps a DRM scheme to the SDK key system name. Unknown schemes
// pass through unchanged.
func KeySystem(scheme string) string {
	if ks, ok := keySystems[strings.ToLower(scheme)]; ok {
		return ks
	}
	return scheme
}

// drmConfig derives the SDK DRM settings from the first descriptor.
// Supported reports whether the clip uses a protocol the player accepts.
func (c ClipDefinition) Supported() bool {
	return strings.EqualFold(c.Protocol, ProtocolDASH)
}

func (c ClipDefinition) drmConfig() *sdk.DRMConfig {
	d, ok := lo.First(c.DRM)
	if !ok {
		return nil
	}
	return &sdk.DRMConfig{
		KeySystem:  KeySystem(d.Scheme),
		LicenseURL: d.LicenceURL,
		Headers:    lo.Assign(d.KeyRequestProperties),
	}
}

// ParseDRM decodes the UI's DRM list. A blank string means no DRM.
func ParseDRM(raw string) ([]DRMDescription, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []DRMDescription
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode drm list: %w", err)
	}
	return out, nil
}
