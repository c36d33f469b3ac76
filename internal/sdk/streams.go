package sdk

import "fmt"

// ContentType classifies a stream group.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentAudio
	ContentVideo
	ContentText
)

func (c ContentType) String() string {
	switch c {
	case ContentAudio:
		return "audio"
	case ContentVideo:
		return "video"
	case ContentText:
		return "text"
	default:
		return "unknown"
	}
}

// RoleFlags mirrors the DASH Role descriptor.
type RoleFlags uint32

const (
	RoleMain RoleFlags = 1 << iota
	RoleAlternate
	RoleSubtitle
	RoleCaption
)

// Format describes one encodable variant of a stream.
type Format struct {
	ID           string
	Label        string
	Language     string
	Codecs       string
	MimeType     string
	Width        int
	Height       int
	FrameRate    float64
	Bitrate      int // bits per second, 0 when unknown
	ChannelCount int
	Roles        RoleFlags
}

// StreamInfo wraps a Format inside a group.
type StreamInfo struct {
	Format Format
}

// StreamGroup is a set of alternative formats for a single content type.
type StreamGroup struct {
	ContentType ContentType
	Streams     []StreamInfo
}

// StreamSelector picks the active format within a group.
type StreamSelector interface {
	fmt.Stringer
	selector()
}

// FixedSelector always plays the format at Index.
type FixedSelector struct {
	Index int
}

func (FixedSelector) selector() {}

func (s FixedSelector) String() string { return fmt.Sprintf("fixed(%d)", s.Index) }

// ThroughputHistorySelector lets the SDK adapt between formats based on
// measured download throughput.
type ThroughputHistorySelector struct{}

func (ThroughputHistorySelector) selector() {}

func (ThroughputHistorySelector) String() string { return "throughput-history" }

// IsAdaptive reports whether s lets the SDK switch formats on its own.
func IsAdaptive(s StreamSelector) bool {
	_, ok := s.(ThroughputHistorySelector)
	return ok
}
