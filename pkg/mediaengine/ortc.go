package mediaengine

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cast"
)

const dynamicPayloadTypeStart = 100

// Header extensions every router advertises
var defaultHeaderExtensions = []RtpHeaderExtension{
	{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
	{Kind: MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
	{Kind: MediaKindAudio, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
	{Kind: MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
	{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10, Direction: "sendrecv"},
}

// ValidateCodecs checks a router codec list before it reaches an engine
func ValidateCodecs(codecs []RtpCodecCapability) error {
	if len(codecs) == 0 {
		return fmt.Errorf("%w: empty codec list", ErrInvalidParameters)
	}
	for _, c := range codecs {
		if !c.Kind.Valid() {
			return fmt.Errorf("%w: codec %q has invalid kind %q", ErrInvalidParameters, c.MimeType, c.Kind)
		}
		prefix := string(c.Kind) + "/"
		if !strings.HasPrefix(strings.ToLower(c.MimeType), prefix) {
			return fmt.Errorf("%w: mime type %q does not match kind %q", ErrInvalidParameters, c.MimeType, c.Kind)
		}
		if c.ClockRate == 0 {
			return fmt.Errorf("%w: codec %q has no clock rate", ErrInvalidParameters, c.MimeType)
		}
	}
	return nil
}

// GenerateRouterRtpCapabilities assigns payload types and default feedback
// to the configured codecs.
func GenerateRouterRtpCapabilities(codecs []RtpCodecCapability) (RtpCapabilities, error) {
	if err := ValidateCodecs(codecs); err != nil {
		return RtpCapabilities{}, err
	}
	used := make(map[uint8]bool)
	for _, c := range codecs {
		if c.PreferredPayloadType != 0 {
			if used[c.PreferredPayloadType] {
				return RtpCapabilities{}, fmt.Errorf("%w: duplicate payload type %d", ErrInvalidParameters, c.PreferredPayloadType)
			}
			used[c.PreferredPayloadType] = true
		}
	}

	next := uint8(dynamicPayloadTypeStart)
	caps := RtpCapabilities{HeaderExtensions: append([]RtpHeaderExtension(nil), defaultHeaderExtensions...)}
	for _, c := range codecs {
		cc := cloneCapability(c)
		if cc.Kind == MediaKindAudio && cc.Channels == 0 {
			cc.Channels = 1
		}
		if cc.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			if next > 127 {
				return RtpCapabilities{}, fmt.Errorf("%w: out of dynamic payload types", ErrInvalidParameters)
			}
			cc.PreferredPayloadType = next
			used[next] = true
		}
		if len(cc.RtcpFeedback) == 0 {
			cc.RtcpFeedback = defaultFeedback(cc.Kind)
		}
		caps.Codecs = append(caps.Codecs, cc)
	}
	return caps, nil
}

func defaultFeedback(kind MediaKind) []RtcpFeedback {
	if kind == MediaKindAudio {
		return []RtcpFeedback{{Type: "transport-cc"}}
	}
	return []RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// ValidateProduce checks producer parameters against the router capabilities
func ValidateProduce(kind MediaKind, params RtpParameters, routerCaps RtpCapabilities) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: invalid kind %q", ErrInvalidParameters, kind)
	}
	if len(params.Codecs) == 0 {
		return fmt.Errorf("%w: no codecs in rtp parameters", ErrInvalidParameters)
	}
	for _, c := range params.Codecs {
		if isRtx(c.MimeType) {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(kind)+"/") {
			return fmt.Errorf("%w: codec %q is not %s", ErrInvalidParameters, c.MimeType, kind)
		}
		if _, ok := findMatch(c, routerCaps.Codecs); !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedCodec, c.MimeType)
		}
	}
	return nil
}

// CanConsume reports whether an endpoint with caps can receive at least one
// media codec of a producer sending params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	for _, c := range params.Codecs {
		if isRtx(c.MimeType) {
			continue
		}
		if _, ok := findMatch(c, caps.Codecs); ok {
			return true
		}
	}
	return false
}

// ConsumerRtpParameters derives what a consumer will send to an endpoint
// with caps. Codecs keep the producer's order but take the endpoint's
// payload types; one encoding with a fresh SSRC is generated.
func ConsumerRtpParameters(producer RtpParameters, caps RtpCapabilities) (RtpParameters, error) {
	out := RtpParameters{
		Rtcp: RtcpParameters{Cname: producer.Rtcp.Cname, ReducedSize: true},
	}
	for _, c := range producer.Codecs {
		if isRtx(c.MimeType) {
			continue
		}
		capCodec, ok := findMatch(c, caps.Codecs)
		if !ok {
			continue
		}
		cp := c
		cp.Parameters = cloneParams(c.Parameters)
		if capCodec.PreferredPayloadType != 0 {
			cp.PayloadType = capCodec.PreferredPayloadType
		}
		if len(capCodec.RtcpFeedback) > 0 {
			cp.RtcpFeedback = append([]RtcpFeedback(nil), capCodec.RtcpFeedback...)
		}
		out.Codecs = append(out.Codecs, cp)
	}
	if len(out.Codecs) == 0 {
		return RtpParameters{}, ErrCannotConsume
	}

	supported := make(map[string]bool, len(caps.HeaderExtensions))
	for _, ext := range caps.HeaderExtensions {
		supported[ext.URI] = true
	}
	for _, ext := range producer.HeaderExtensions {
		if supported[ext.URI] {
			out.HeaderExtensions = append(out.HeaderExtensions, ext)
		}
	}

	out.Encodings = []RtpEncodingParameters{{Ssrc: NewSsrc()}}
	return out, nil
}

// NewSsrc returns a random non-zero SSRC
func NewSsrc() uint32 {
	for {
		if v := rand.Uint32(); v != 0 {
			return v
		}
	}
}

func findMatch(c RtpCodecParameters, caps []RtpCodecCapability) (RtpCodecCapability, bool) {
	for _, cc := range caps {
		if matchCodec(c, cc) {
			return cc, true
		}
	}
	return RtpCodecCapability{}, false
}

func matchCodec(c RtpCodecParameters, cc RtpCodecCapability) bool {
	if !strings.EqualFold(c.MimeType, cc.MimeType) {
		return false
	}
	if c.ClockRate != cc.ClockRate {
		return false
	}
	if strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") && channelsOrOne(c.Channels) != channelsOrOne(cc.Channels) {
		return false
	}
	switch strings.ToLower(c.MimeType) {
	case "video/h264":
		return intParam(c.Parameters, "packetization-mode") == intParam(cc.Parameters, "packetization-mode")
	case "video/vp9":
		return intParam(c.Parameters, "profile-id") == intParam(cc.Parameters, "profile-id")
	}
	return true
}

func channelsOrOne(ch uint16) uint16 {
	if ch == 0 {
		return 1
	}
	return ch
}

// intParam reads a numeric fmtp parameter. JSON, msgpack and YAML decode
// numbers into different Go types.
func intParam(params map[string]interface{}, key string) int {
	v, ok := params[key]
	if !ok {
		return 0
	}
	return cast.ToInt(v)
}

func isRtx(mime string) bool {
	return strings.HasSuffix(strings.ToLower(mime), "/rtx")
}

func cloneCapability(c RtpCodecCapability) RtpCodecCapability {
	c.Parameters = cloneParams(c.Parameters)
	c.RtcpFeedback = append([]RtcpFeedback(nil), c.RtcpFeedback...)
	return c
}

func cloneParams(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
