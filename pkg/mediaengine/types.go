package mediaengine

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether k names a supported media kind
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

type RtcpFeedback struct {
	Type      string `json:"type" yaml:"type"`
	Parameter string `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// RtpCodecCapability is a codec entry in router or endpoint capabilities
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind" yaml:"kind"`
	MimeType             string                 `json:"mimeType" yaml:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty" yaml:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate" yaml:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty" yaml:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty" yaml:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
	Direction   string    `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI     string `json:"uri"`
	ID      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtxParameters struct {
	Ssrc uint32 `json:"ssrc"`
}

type RtpEncodingParameters struct {
	Ssrc            uint32         `json:"ssrc,omitempty"`
	Rid             string         `json:"rid,omitempty"`
	Rtx             *RtxParameters `json:"rtx,omitempty"`
	Dtx             bool           `json:"dtx,omitempty"`
	ScalabilityMode string         `json:"scalabilityMode,omitempty"`
	MaxBitrate      uint32         `json:"maxBitrate,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

// RtpParameters describes what a producer sends or a consumer receives
type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsRole string

const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type DtlsState string

const (
	DtlsStateNew        DtlsState = "new"
	DtlsStateConnecting DtlsState = "connecting"
	DtlsStateConnected  DtlsState = "connected"
	DtlsStateFailed     DtlsState = "failed"
	DtlsStateClosed     DtlsState = "closed"
)

// Terminal reports whether the DTLS association can no longer carry media
func (s DtlsState) Terminal() bool {
	return s == DtlsStateFailed || s == DtlsStateClosed
}

type ListenIP struct {
	IP          string `json:"ip" yaml:"ip"`
	AnnouncedIP string `json:"announcedIp,omitempty" yaml:"announcedIp,omitempty"`
}

type WebRtcTransportOptions struct {
	ListenIPs []ListenIP
	EnableUDP bool
	EnableTCP bool
	PreferUDP bool
	AppData   map[string]interface{}
}

// ConnectOptions carries the remote side of the handshake. IceParameters and
// IceCandidates are optional for engines that learn them from STUN traffic.
type ConnectOptions struct {
	DtlsParameters DtlsParameters
	IceParameters  *IceParameters
	IceCandidates  []IceCandidate
}

type ProduceOptions struct {
	Kind          MediaKind
	RtpParameters RtpParameters
	Paused        bool
	AppData       map[string]interface{}
}

type ConsumeOptions struct {
	ProducerID      string
	RtpCapabilities RtpCapabilities
	Paused          bool
	AppData         map[string]interface{}
}

// WorkerSettings bounds the ports a worker may bind for its transports
type WorkerSettings struct {
	RtcMinPort uint16 `yaml:"rtcMinPort"`
	RtcMaxPort uint16 `yaml:"rtcMaxPort"`
	LogLevel   string `yaml:"logLevel"`
}
