package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/1ureka/vibetalk/internal/signaling"
	"github.com/1ureka/vibetalk/internal/util"
)

// ChannelDialer dials the matching server at url. The client id is fixed
// once so that redials keep the same identity.
func ChannelDialer(url string, id signaling.Identity, opts ...signaling.Option) Dialer {
	if id.ClientID == "" {
		id.ClientID = uuid.NewString()
	}
	return func(ctx context.Context) (Signaler, error) {
		return signaling.Dial(ctx, url, id, opts...)
	}
}

// dial opens a new channel in the background. With redial set, failures are
// retried with exponential backoff until RedialTimeout.
func (c *Coordinator) dial(redial bool) {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel

	go func() {
		defer cancel()

		var sig Signaler
		op := func() error {
			s, err := c.opts.Dial(ctx)
			if err != nil {
				return err
			}
			sig = s
			return nil
		}

		var err error
		if redial {
			err = backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx),
				func(err error, wait time.Duration) {
					util.LogWarning("reconnect failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
				})
		} else {
			err = op()
		}

		if !c.post(dialDone{gen: gen, sig: sig, err: err}) && sig != nil {
			sig.Close()
		}
	}()
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	if c.opts.NewBackOff != nil {
		return c.opts.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.opts.RedialTimeout
	return b
}

func (c *Coordinator) handleDial(d dialDone) {
	if d.gen != c.gen {
		if d.sig != nil {
			d.sig.Close()
		}
		return
	}
	c.dialCancel = nil

	if d.err != nil {
		if !errors.Is(d.err, context.Canceled) {
			util.LogError("failed to connect to matching server: %v", d.err)
		}
		c.setState(Idle)
		return
	}

	c.sig = d.sig
	c.retired.reset()
	c.former.reset()
	util.LogSuccess("connected to matching server, searching for a partner")
	go c.pump(d.gen, d.sig)
}

// pump forwards the inbound stream of one channel generation to the loop.
func (c *Coordinator) pump(gen int, sig Signaler) {
	for in := range sig.Inbound() {
		if !c.post(inboundEvent{gen: gen, in: in}) {
			return
		}
	}
}

// channelClosed treats a dropped channel like a partner disconnect, then
// redials while staying in AwaitingMatch.
func (c *Coordinator) channelClosed(cause error) {
	util.LogWarning("signaling channel closed: %v", cause)
	if c.current != nil {
		util.Stats.AddDisconnect()
	}

	c.teardown()
	if c.sig != nil {
		c.sig.Close()
		c.sig = nil
	}

	if c.opts.RedialTimeout <= 0 && c.opts.NewBackOff == nil {
		c.gen++
		c.setState(Idle)
		return
	}
	c.setState(AwaitingMatch)
	c.dial(true)
}
