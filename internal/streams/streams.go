// Package streams projects the SDK's stream groups into UI-facing
// descriptions and computes reselections. Everything here is pure.
package streams

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"tvplayer-orchestrator/internal/sdk"
)

// StreamType is the UI's classification of a stream; values match the
// indices the UI sends.
type StreamType int

const (
	Audio StreamType = iota
	Video
	Subtitle
)

func (t StreamType) String() string {
	switch t {
	case Audio:
		return "Audio"
	case Video:
		return "Video"
	case Subtitle:
		return "Subtitle"
	default:
		return fmt.Sprintf("StreamType(%d)", int(t))
	}
}

// ContentType maps t to the SDK content type of its groups.
func (t StreamType) ContentType() sdk.ContentType {
	switch t {
	case Audio:
		return sdk.ContentAudio
	case Video:
		return sdk.ContentVideo
	case Subtitle:
		return sdk.ContentText
	default:
		return sdk.ContentUnknown
	}
}

// ParseStreamType validates a UI stream type index.
func ParseStreamType(index int) (StreamType, error) {
	t := StreamType(index)
	if t < Audio || t > Subtitle {
		return 0, fmt.Errorf("%w: stream type %d", ErrInvalidStream, index)
	}
	return t, nil
}

// AutoFormatIndex is the format index that selects adaptive bitrate
// switching for a group.
const AutoFormatIndex = -1

const autoID = "auto"

// ErrInvalidStream is returned for a group/format pair that does not exist.
var ErrInvalidStream = errors.New("invalid stream selection")

// Description is one selectable entry in a stream picker.
type Description struct {
	Default     bool       `json:"Default"`
	Description string     `json:"Description"`
	ID          string     `json:"Id"`
	StreamType  StreamType `json:"StreamType"`
	GroupIndex  int        `json:"GroupIndex"`
	FormatIndex int        `json:"FormatIndex"`
}

// Describe lists the selectable streams of type t. selectors[i] belongs to
// groups[i]; a missing selector is treated as no selection. The result is
// empty, never nil, when no group matches.
func Describe(groups []sdk.StreamGroup, selectors []sdk.StreamSelector, t StreamType) []Description {
	out := []Description{}
	content := t.ContentType()

	for gi, g := range groups {
		if g.ContentType != content || len(g.Streams) == 0 {
			continue
		}
		var sel sdk.StreamSelector
		if gi < len(selectors) {
			sel = selectors[gi]
		}

		entries := lo.Map(g.Streams, func(s sdk.StreamInfo, fi int) Description {
			return Description{
				Description: Label(s.Format, t),
				ID:          s.Format.ID,
				StreamType:  t,
				GroupIndex:  gi,
				FormatIndex: fi,
			}
		})
		if t == Video && len(entries) > 1 {
			entries = append(entries, Description{
				Description: "Auto",
				ID:          autoID,
				StreamType:  t,
				GroupIndex:  gi,
				FormatIndex: AutoFormatIndex,
			})
		}
		entries[defaultIndex(t, len(g.Streams), sel, entries)].Default = true
		out = append(out, entries...)
	}
	return out
}

// defaultIndex picks the single entry of a group flagged Default. Audio
// always defaults to its last format.
func defaultIndex(t StreamType, formats int, sel sdk.StreamSelector, entries []Description) int {
	fixed, isFixed := sel.(sdk.FixedSelector)
	fixedInRange := isFixed && fixed.Index >= 0 && fixed.Index < formats

	switch t {
	case Audio:
		return formats - 1
	case Video:
		if formats == 1 {
			return 0
		}
		if fixedInRange {
			return fixed.Index
		}
		// Adaptive selector or none: the Auto entry is last.
		return len(entries) - 1
	default:
		if fixedInRange {
			return fixed.Index
		}
		return 0
	}
}

// Label builds a human-readable description of f.
func Label(f sdk.Format, t StreamType) string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	if id := strings.TrimSpace(f.ID); id != "" {
		if _, err := strconv.Atoi(id); err != nil {
			return id
		}
	}

	switch t {
	case Video:
		return withBitrate(fmt.Sprintf("%dx%d", f.Width, f.Height), f.Bitrate)
	case Audio:
		return withBitrate(f.Language, f.Bitrate)
	case Subtitle:
		return f.Language
	default:
		return fmt.Sprintf("%s %s", t, f.ID)
	}
}

func withBitrate(s string, bitrate int) string {
	if bitrate <= 0 {
		return s
	}
	return fmt.Sprintf("%s %d kbps", s, bitrate/1000)
}

// Reselect returns a copy of selectors with the entry for groupIndex
// replaced: a fixed selector for formatIndex, or an adaptive one for
// AutoFormatIndex. Other groups keep their selectors.
func Reselect(groups []sdk.StreamGroup, selectors []sdk.StreamSelector, groupIndex, formatIndex int) ([]sdk.StreamSelector, error) {
	if groupIndex < 0 || groupIndex >= len(groups) {
		return nil, fmt.Errorf("%w: group %d of %d", ErrInvalidStream, groupIndex, len(groups))
	}
	if len(selectors) != len(groups) {
		return nil, fmt.Errorf("%w: %d selectors for %d groups", ErrInvalidStream, len(selectors), len(groups))
	}

	var next sdk.StreamSelector
	switch formats := len(groups[groupIndex].Streams); {
	case formatIndex == AutoFormatIndex:
		next = sdk.ThroughputHistorySelector{}
	case formatIndex >= 0 && formatIndex < formats:
		next = sdk.FixedSelector{Index: formatIndex}
	default:
		return nil, fmt.Errorf("%w: format %d of %d in group %d", ErrInvalidStream, formatIndex, formats, groupIndex)
	}

	out := make([]sdk.StreamSelector, len(selectors))
	copy(out, selectors)
	out[groupIndex] = next
	return out, nil
}
