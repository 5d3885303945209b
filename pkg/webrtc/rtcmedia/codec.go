package rtcmedia

import (
	"fmt"
	"sort"
	"strings"

	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cast"
)

// codecType maps a media kind onto pion's codec type
func codecType(kind mediaengine.MediaKind) webrtc.RTPCodecType {
	if kind == mediaengine.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// fmtpLine renders codec parameters as an SDP fmtp value with sorted keys
func fmtpLine(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+cast.ToString(params[k]))
	}
	return strings.Join(parts, ";")
}

func rtcpFeedback(fb []mediaengine.RtcpFeedback) []webrtc.RTCPFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

// capabilityCodec converts a router codec into pion's registration form
func capabilityCodec(c mediaengine.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: rtcpFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// parameterCodec converts a negotiated producer or consumer codec
func parameterCodec(c mediaengine.RtpCodecParameters) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: rtcpFeedback(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// newMediaEngine registers every router codec with its assigned payload type
func newMediaEngine(caps mediaengine.RtpCapabilities) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		if err := m.RegisterCodec(capabilityCodec(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	return m, nil
}

// primaryCodec returns the first non-RTX codec of params
func primaryCodec(params mediaengine.RtpParameters) (mediaengine.RtpCodecParameters, bool) {
	for _, c := range params.Codecs {
		if strings.HasSuffix(strings.ToLower(c.MimeType), "/rtx") {
			continue
		}
		return c, true
	}
	return mediaengine.RtpCodecParameters{}, false
}
