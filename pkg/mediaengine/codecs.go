package mediaengine

import "github.com/LingByte/LingSFU/pkg/constants"

// DefaultMediaCodecs is the process-wide codec set: Opus and VP8 with a
// start bitrate hint.
func DefaultMediaCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{
			Kind:      MediaKindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"x-google-start-bitrate": constants.VideoStartBitrate,
			},
		},
	}
}
