package client

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/protocol"
)

// Client decodes server messages and keeps a Mirror current.
// Not safe for concurrent use.
type Client struct {
	reg    *codec.Registry
	mirror *Mirror
	log    *zap.Logger

	// OnResync is called when the mirror can no longer be trusted. The
	// transport should answer by sending protocol.EncodeResync.
	OnResync func(reason error)
	// OnEvent receives each server event, after the patch carrying it has
	// been applied.
	OnEvent func(tick uint32, ev protocol.Event)

	lastTick uint32
	resyncs  int
	// awaiting is set once a resync was requested; incremental patches
	// are dropped until the next full patch.
	awaiting bool
}

func New(reg *codec.Registry, mirror *Mirror, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{reg: reg, mirror: mirror, log: log}
}

func (c *Client) Mirror() *Mirror { return c.mirror }

// LastTick returns the tick of the last applied patch.
func (c *Client) LastTick() uint32 { return c.lastTick }

// Resyncs returns how many times the client asked for a full resync.
func (c *Client) Resyncs() int { return c.resyncs }

// Awaiting reports whether the client is waiting for a full patch.
func (c *Client) Awaiting() bool { return c.awaiting }

// Handle processes one message. Schema and desync errors are returned after
// OnResync has been called; a fingerprint mismatch is returned without a
// resync since resending state cannot fix it. While a resync is pending,
// patches other than a full one are skipped and OnResync is not repeated.
func (c *Client) Handle(data []byte) error {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return err
	}
	switch typ {
	case protocol.MsgHello:
		if err := protocol.CheckHello(data, c.reg.Fingerprint()); err != nil {
			c.log.Error("schema mismatch", zap.Error(err))
			return err
		}
		return nil
	case protocol.MsgPatch:
		p, err := protocol.DecodePatch(c.reg, data)
		if err != nil {
			return c.fail(fmt.Errorf("decode patch: %w", err))
		}
		if c.awaiting && !p.Full {
			c.log.Debug("patch skipped until full resync", zap.Uint32("tick", p.Tick))
			c.emit(p)
			return nil
		}
		c.awaiting = false
		if err := c.mirror.Apply(p); err != nil {
			return c.fail(err)
		}
		c.lastTick = p.Tick
		c.emit(p)
		return nil
	default:
		return fmt.Errorf("%w: %#04x", protocol.ErrMessageType, uint16(typ))
	}
}

func (c *Client) emit(p *protocol.Patch) {
	if c.OnEvent == nil {
		return
	}
	for _, ev := range p.Events {
		c.OnEvent(p.Tick, ev)
	}
}

func (c *Client) fail(err error) error {
	if c.awaiting {
		return err
	}
	c.awaiting = true
	c.resyncs++
	level := c.log.Warn
	if !errors.Is(err, ErrDesync) {
		level = c.log.Error
	}
	level("mirror reset requested", zap.Error(err), zap.Uint32("last_tick", c.lastTick))
	if c.OnResync != nil {
		c.OnResync(err)
	}
	return err
}
