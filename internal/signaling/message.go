// Package signaling implements the duplex WebSocket channel to the matching
// server. Raw frames are decoded into typed Inbound events; typed Outbound
// commands are encoded into frames. All wire details stay inside the package.
package signaling

import "github.com/pion/webrtc/v4"

// MessageType identifies the kind of signaling message on the wire.
type MessageType string

const (
	// Server → client.
	MsgTypeSendOffer        MessageType = "send-offer"
	MsgTypeUserDisconnected MessageType = "user-disconnected"
	MsgTypeRoomReady        MessageType = "room-ready"
	MsgTypeReceiveMessage   MessageType = "receive-message"

	// Both directions.
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "add-ice-candidate"

	// Client → server.
	MsgTypeNextUser    MessageType = "next-user"
	MsgTypeChatMessage MessageType = "chat-message"
)

// Message is the structure exchanged with the matching server. Field names
// follow the server's room vocabulary (roomId = session id).
type Message struct {
	Type      MessageType  `json:"type" msgpack:"type"`
	SessionID string       `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	SenderID  string       `json:"senderSocketId,omitempty" msgpack:"senderSocketId,omitempty"`
	SDP       *Description `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *Candidate   `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Text      string       `json:"message,omitempty" msgpack:"message,omitempty"`
}

// Description is a session description as browsers serialize it.
type Description struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// Candidate is an ICE candidate init as browsers serialize it.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// NewDescription converts a pion session description to its wire form.
func NewDescription(sd webrtc.SessionDescription) *Description {
	return &Description{Type: sd.Type.String(), SDP: sd.SDP}
}

// SessionDescription converts the wire form back to a pion description.
func (d *Description) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

// NewCandidate converts a pion candidate init to its wire form.
func NewCandidate(c webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// ICECandidateInit converts the wire form back to a pion candidate init.
func (c *Candidate) ICECandidateInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
