package peer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/sdp/v3"
)

// summarize renders a one-line description of an SDP body for debug logs,
// e.g. "video[VP8,VP9] audio[opus] ice-lite=false".
func summarize(raw string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Sprintf("unparseable sdp: %v", err)
	}

	parts := make([]string, 0, len(desc.MediaDescriptions)+1)
	for _, md := range desc.MediaDescriptions {
		var codecs []string
		seen := map[string]bool{}
		for _, format := range md.MediaName.Formats {
			var pt uint8
			if _, err := fmt.Sscanf(format, "%d", &pt); err != nil {
				continue
			}
			codec, err := desc.GetCodecForPayloadType(pt)
			if err != nil || seen[codec.Name] {
				continue
			}
			seen[codec.Name] = true
			codecs = append(codecs, codec.Name)
		}
		parts = append(parts, fmt.Sprintf("%s[%s]", md.MediaName.Media, strings.Join(codecs, ",")))
	}

	_, lite := desc.Attribute("ice-lite")
	parts = append(parts, fmt.Sprintf("ice-lite=%t", lite))
	return strings.Join(parts, " ")
}

// sdpSummary defers summarize until a handler actually emits the record.
type sdpSummary string

func (s sdpSummary) LogValue() slog.Value {
	return slog.StringValue(summarize(string(s)))
}
