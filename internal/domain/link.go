package domain

// LinkState is the handshake state of one peer link.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOfferSent
	LinkAwaitingAnswer
	LinkAwaitingConnect
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkOfferSent:
		return "offer_sent"
	case LinkAwaitingAnswer:
		return "awaiting_answer"
	case LinkAwaitingConnect:
		return "awaiting_connect"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

func (s LinkState) Terminal() bool { return s == LinkClosed }

// SignalKind classifies an envelope payload.
type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
	KindControl   SignalKind = "control"
)

// Handshake reports whether the kind is fed to a peer link.
func (k SignalKind) Handshake() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CaptureKind selects which devices are opened for the local bundle.
type CaptureKind string

const (
	CaptureAudio CaptureKind = "audio"
	CaptureVideo CaptureKind = "video"
	CaptureBoth  CaptureKind = "both"
)

func (c CaptureKind) Audio() bool { return c == CaptureAudio || c == CaptureBoth }
func (c CaptureKind) Video() bool { return c == CaptureVideo || c == CaptureBoth }
