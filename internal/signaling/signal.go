package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrChannelClosed is carried by the terminal ChannelClosed signal when the
// channel was closed locally.
var ErrChannelClosed = errors.New("signaling channel closed")

// InboundKind identifies a typed inbound event.
type InboundKind int

const (
	RoleAssignedOfferer InboundKind = iota + 1
	IncomingOffer
	IncomingAnswer
	IncomingCandidate
	PartnerDisconnected
	SessionReady
	ChatMessage
	ChannelClosed
)

var inboundNames = map[InboundKind]string{
	RoleAssignedOfferer: "role-assigned-as-offerer",
	IncomingOffer:       "incoming-offer",
	IncomingAnswer:      "incoming-answer",
	IncomingCandidate:   "incoming-candidate",
	PartnerDisconnected: "partner-disconnected",
	SessionReady:        "session-ready",
	ChatMessage:         "chat-message",
	ChannelClosed:       "channel-closed",
}

func (k InboundKind) String() string {
	if name, ok := inboundNames[k]; ok {
		return name
	}
	return fmt.Sprintf("inbound(%d)", int(k))
}

// Inbound is one typed event delivered by the channel. Only the fields
// relevant to Kind are set.
type Inbound struct {
	Kind      InboundKind
	SessionID string
	SenderID  string
	SDP       webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
	Text      string

	// Err is the cause of a ChannelClosed signal.
	Err error
}

// inboundFromMessage maps a wire message to its typed event. The boolean is
// false for messages this client does not consume.
func inboundFromMessage(msg Message) (Inbound, bool, error) {
	in := Inbound{SessionID: msg.SessionID, SenderID: msg.SenderID}

	switch msg.Type {
	case MsgTypeSendOffer:
		in.Kind = RoleAssignedOfferer
		if msg.SessionID == "" {
			return in, false, errors.New("send-offer without roomId")
		}

	case MsgTypeOffer:
		in.Kind = IncomingOffer
		if msg.SessionID == "" || msg.SDP == nil {
			return in, false, errors.New("offer without roomId or sdp")
		}
		in.SDP = msg.SDP.SessionDescription()

	case MsgTypeAnswer:
		in.Kind = IncomingAnswer
		if msg.SDP == nil {
			return in, false, errors.New("answer without sdp")
		}
		in.SDP = msg.SDP.SessionDescription()

	case MsgTypeCandidate:
		in.Kind = IncomingCandidate
		if msg.Candidate == nil {
			return in, false, errors.New("add-ice-candidate without candidate")
		}
		in.Candidate = msg.Candidate.ICECandidateInit()

	case MsgTypeUserDisconnected:
		in.Kind = PartnerDisconnected

	case MsgTypeRoomReady:
		in.Kind = SessionReady

	case MsgTypeReceiveMessage:
		in.Kind = ChatMessage
		in.Text = msg.Text

	default:
		return in, false, nil
	}
	return in, true, nil
}

// OutboundKind identifies a typed outbound command.
type OutboundKind int

const (
	SendOffer OutboundKind = iota + 1
	SendAnswer
	SendCandidate
	NextUser
	SendChat
)

// Outbound is one typed command accepted by Channel.Send.
type Outbound struct {
	Kind      OutboundKind
	SessionID string
	SDP       webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
	Text      string
}

// message maps the command to its wire form, stamping senderID where the
// server expects it.
func (o Outbound) message(senderID string) (Message, error) {
	msg := Message{SessionID: o.SessionID}

	switch o.Kind {
	case SendOffer:
		msg.Type = MsgTypeOffer
		msg.SDP = NewDescription(o.SDP)
		msg.SenderID = senderID
	case SendAnswer:
		msg.Type = MsgTypeAnswer
		msg.SDP = NewDescription(o.SDP)
		msg.SenderID = senderID
	case SendCandidate:
		msg.Type = MsgTypeCandidate
		msg.Candidate = NewCandidate(o.Candidate)
		msg.SenderID = senderID
	case NextUser:
		msg.Type = MsgTypeNextUser
	case SendChat:
		msg.Type = MsgTypeChatMessage
		msg.Text = o.Text
		msg.SenderID = senderID
	default:
		return msg, fmt.Errorf("unknown outbound kind %d", int(o.Kind))
	}
	return msg, nil
}
