package coordinator

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/session"
	"github.com/1ureka/vibetalk/internal/signaling"
	"github.com/1ureka/vibetalk/internal/util"
)

// Loop events.
type (
	// inboundEvent is a signal read from the channel of generation gen.
	inboundEvent struct {
		gen int
		in  signaling.Inbound
	}

	// sessionEvent is a transport callback of the session ev.SessionID.
	sessionEvent struct {
		ev session.Event
	}

	// stepsDone reports the end of a negotiation pipeline.
	stepsDone struct {
		n   *negotiation
		err error
	}

	// dialDone reports the end of a dial attempt of generation gen.
	dialDone struct {
		gen int
		sig Signaler
		err error
	}
)

func (c *Coordinator) handle(ev any) {
	switch ev := ev.(type) {
	case inboundEvent:
		if ev.gen != c.gen {
			return
		}
		c.handleInbound(ev.in)
	case sessionEvent:
		// Session ids are never reused once retired.
		if c.current == nil || c.current.ID() != ev.ev.SessionID {
			return
		}
		c.handleSession(ev.ev)
	case stepsDone:
		c.handleSteps(ev.n, ev.err)
	case dialDone:
		c.handleDial(ev)
	}
}

// ---------------------------------------------------------------------------
// Pipelines
// ---------------------------------------------------------------------------

// negotiation is the input and output of one pipeline run.
type negotiation struct {
	s      *session.PeerSession
	tracks []webrtc.TrackLocal
	remote webrtc.SessionDescription
	local  webrtc.SessionDescription
}

type step func(n *negotiation) error

func attachLocal(n *negotiation) error {
	return n.s.AttachLocal(n.tracks...)
}

func applyRemote(n *negotiation) error {
	return n.s.ApplyRemoteDescription(n.remote)
}

func createOffer(n *negotiation) (err error) {
	n.local, err = n.s.CreateOffer()
	return err
}

func createAnswer(n *negotiation) (err error) {
	n.local, err = n.s.CreateAnswer()
	return err
}

// The offerer sends its offer and waits for the answer; the answerer applies
// the offer (flushing buffered candidates) and sends its answer.
var (
	offererSteps  = []step{attachLocal, createOffer}
	answererSteps = []step{attachLocal, applyRemote, createAnswer}
	answerSteps   = []step{applyRemote}
)

// run executes steps in order on their own goroutine and reports to the loop.
func (c *Coordinator) run(n *negotiation, steps []step) {
	go func() {
		var err error
		for _, fn := range steps {
			if err = fn(n); err != nil {
				break
			}
		}
		c.post(stepsDone{n: n, err: err})
	}()
}

func (c *Coordinator) handleSteps(n *negotiation, err error) {
	if n.s != c.current {
		util.LogSession(n.s.ID(), "discarding result of superseded session")
		return
	}

	switch {
	case errors.Is(err, session.ErrSessionClosed):
		util.LogWarning("negotiation step after close: %v", err)
		return
	case errors.Is(err, session.ErrRemoteDescriptionSet):
		util.LogWarning("protocol error: %v", err)
		return
	case err != nil:
		c.fault(err)
		return
	}

	id := n.s.ID()
	switch {
	case n.local.Type == webrtc.SDPTypeOffer:
		c.send(signaling.Outbound{Kind: signaling.SendOffer, SessionID: id, SDP: n.local})
		util.LogSession(id, "offer sent")
	case n.local.Type == webrtc.SDPTypeAnswer:
		c.send(signaling.Outbound{Kind: signaling.SendAnswer, SessionID: id, SDP: n.local})
		util.LogSession(id, "answer sent")
		c.negotiated = true
	default:
		util.LogSession(id, "answer applied")
		c.negotiated = true
	}
	c.checkConnected()
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

func (c *Coordinator) handleInbound(in signaling.Inbound) {
	switch in.Kind {
	case signaling.RoleAssignedOfferer:
		if c.begin(in, session.Offerer) {
			c.run(c.negotiation(), offererSteps)
		}

	case signaling.IncomingOffer:
		if c.begin(in, session.Answerer) {
			n := c.negotiation()
			n.remote = in.SDP
			c.run(n, answererSteps)
		}

	case signaling.IncomingAnswer:
		if c.current == nil {
			util.LogDebug("ignoring answer for %q outside a session", in.SessionID)
			return
		}
		if c.isStale(in) {
			if c.canPark(in) {
				util.LogSession(c.current.ID(), "holding answer from %s until the partner is known", in.SenderID)
				c.parked[in.SenderID] = in.SDP
				return
			}
			util.LogDebug("ignoring stale answer for %q from %q", in.SessionID, in.SenderID)
			return
		}
		if c.current.Role() != session.Offerer {
			util.LogWarning("protocol error: answer received as answerer")
			return
		}
		delete(c.parked, in.SenderID)
		c.notePartner(in.SenderID)
		c.applyAnswer(in.SDP)

	case signaling.IncomingCandidate:
		c.addCandidate(in)

	case signaling.PartnerDisconnected:
		if c.current == nil {
			return
		}
		util.LogInfo("partner disconnected")
		util.Stats.AddDisconnect()
		c.teardown()
		c.setState(AwaitingMatch)

	case signaling.SessionReady:
		util.LogSession(in.SessionID, "session ready")

	case signaling.ChatMessage:
		c.chat.Deliver(in.Text)

	case signaling.ChannelClosed:
		c.channelClosed(in.Err)
	}
}

// begin creates the session for a match. It reports false when the signal
// is a duplicate or stale, or when the transport cannot be allocated.
func (c *Coordinator) begin(in signaling.Inbound, role session.Role) bool {
	id := in.SessionID
	if c.retired.has(id) {
		util.LogDebug("ignoring %s match for retired session %q", role, id)
		return false
	}
	if c.current != nil {
		if c.current.ID() == id {
			util.LogWarning("duplicate match for session %q as %s", id, role)
			return false
		}
		// A new match supersedes the current pairing.
		c.teardown()
	}

	buf := c.pending
	partner := in.SenderID
	otherRoom := c.pendingID != "" && c.pendingID != id
	otherPeer := partner != "" && c.pendingBy != "" && c.pendingBy != partner
	if otherRoom || otherPeer {
		buf.Reset()
	} else if partner == "" {
		partner = c.pendingBy
	}
	c.pending = session.NewCandidateBuffer()
	c.pendingID = ""
	c.pendingBy = ""

	s, err := session.New(id, role, c.opts.Conns, buf, c.forward)
	if err != nil {
		c.current = nil
		c.retired.add(id)
		c.former.add(partner)
		c.send(signaling.Outbound{Kind: signaling.NextUser, SessionID: id})
		c.fault(err)
		return false
	}

	util.LogInfo("matched as %s", role)
	util.Stats.AddMatch()
	c.current = s
	c.partner = partner
	c.chat.Bind(id)
	c.setState(Negotiating)
	return true
}

func (c *Coordinator) negotiation() *negotiation {
	return &negotiation{s: c.current, tracks: c.opts.Source.Tracks()}
}

// forward turns session callbacks into loop events.
func (c *Coordinator) forward(ev session.Event) {
	c.post(sessionEvent{ev: ev})
}

// isStale reports whether a signal cannot be taken for the current (or,
// before a match, the next) session. A session id decides on its own.
// Without one the sender decides: the known partner is current, a former
// partner is stale. A signal that names neither is only taken while no
// session has ended on this channel, since nothing can be late before that.
func (c *Coordinator) isStale(in signaling.Inbound) bool {
	if in.SessionID != "" {
		if c.retired.has(in.SessionID) {
			return true
		}
		return c.current != nil && c.current.ID() != in.SessionID
	}
	if in.SenderID != "" {
		if c.partner != "" {
			return in.SenderID != c.partner
		}
		if c.former.has(in.SenderID) {
			return true
		}
	}
	return c.retired.len() > 0
}

// canPark reports whether an unattributed answer may come from the partner
// of the current offerer session: it has a sender that is neither a former
// partner nor contradicted by a known one.
func (c *Coordinator) canPark(in signaling.Inbound) bool {
	return in.SessionID == "" && in.SenderID != "" &&
		c.partner == "" && !c.former.has(in.SenderID) &&
		c.current.Role() == session.Offerer && !c.current.HasRemoteDescription()
}

// notePartner records the sender of the first attributed signal of the
// current session. A held answer from that sender is applied; the others
// are dropped.
func (c *Coordinator) notePartner(sender string) {
	if c.current == nil || sender == "" || c.partner != "" {
		return
	}
	c.partner = sender
	util.LogSession(c.current.ID(), "partner is %s", sender)

	sdp, ok := c.parked[sender]
	clear(c.parked)
	if ok {
		c.applyAnswer(sdp)
	}
}

func (c *Coordinator) applyAnswer(sdp webrtc.SessionDescription) {
	c.run(&negotiation{s: c.current, remote: sdp}, answerSteps)
}

// addCandidate applies or buffers a remote candidate. Before any session
// exists candidates wait in the pending buffer handed to the next session.
func (c *Coordinator) addCandidate(in signaling.Inbound) {
	if c.isStale(in) {
		util.LogDebug("dropping stale candidate for %q from %q", in.SessionID, in.SenderID)
		return
	}

	if c.current != nil {
		c.notePartner(in.SenderID)
		if err := c.current.AddCandidate(in.Candidate); err != nil {
			util.LogWarning("failed to add candidate: %v", err)
		}
		return
	}

	if in.SessionID != "" && in.SessionID != c.pendingID {
		if c.pendingID != "" {
			c.pending.Reset()
			c.pendingBy = ""
		}
		c.pendingID = in.SessionID
	}
	if in.SenderID != "" {
		c.pendingBy = in.SenderID
	}
	c.pending.Offer(in.Candidate, nil)
}

func (c *Coordinator) handleSession(ev session.Event) {
	switch ev.Kind {
	case session.LocalCandidate:
		c.send(signaling.Outbound{Kind: signaling.SendCandidate, SessionID: ev.SessionID, Candidate: ev.Candidate})
	case session.RemoteTrackAdded:
		c.mediaUp = true
		c.remoteTrack(ev.Track)
		c.checkConnected()
	case session.ConnectionStateChanged:
		c.connectionState(ev.State)
	}
}
