// Package protocol defines the replication wire messages. Every message is
// a little-endian u16 message type followed by its payload. Message types
// sit above the schema TypeID range so the two never collide.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/l1jgo/worldsync/internal/codec"
)

// Message types.
const (
	MsgHello  codec.TypeID = codec.ReservedTypeIDs + iota // server -> client, schema fingerprint
	MsgPatch                                              // server -> client
	MsgResync                                             // client -> server, empty
)

var (
	ErrFingerprint = errors.New("protocol: schema fingerprint mismatch")
	ErrMessageType = errors.New("protocol: unexpected message type")
)

// OpKind is the discriminator of a patch operation.
type OpKind uint8

const (
	OpRemoved OpKind = 1
	OpAdded   OpKind = 2
	OpChanged OpKind = 3
)

func (k OpKind) String() string {
	switch k {
	case OpRemoved:
		return "removed"
	case OpAdded:
		return "added"
	case OpChanged:
		return "changed"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Entry is one entity payload. Added entries carry every field; changed
// entries carry only changed fields, nested objects included.
type Entry struct {
	ID     string
	Schema *codec.Object
	Fields codec.Fields
}

// Op is one collection-level operation. Removed uses IDs; Added and
// Changed use Entries.
type Op struct {
	Kind       OpKind
	Collection string
	IDs        []string
	Entries    []Entry
}

// Event is a one-shot server message delivered alongside a tick's patch.
// Its payload is a full object encoding, resolved by TypeID on decode.
type Event struct {
	Name    string
	Schema  *codec.Object
	Payload codec.Fields
}

// Patch is everything one observer receives for one tick.
type Patch struct {
	Tick uint32
	// Full tells the client to drop its mirror before applying.
	Full   bool
	Ops    []Op
	Events []Event
}

const (
	flagFull   = 1 << 0
	flagEvents = 1 << 1
)

// Empty reports whether sending p would change nothing on the client.
func (p *Patch) Empty() bool { return !p.Full && len(p.Ops) == 0 && len(p.Events) == 0 }

// Count returns the number of ids the patch touches.
func (p *Patch) Count() int {
	n := 0
	for _, op := range p.Ops {
		n += len(op.IDs) + len(op.Entries)
	}
	return n
}

// SizeOf returns the encoded size of p.
func SizeOf(p *Patch) int {
	n := 2 + 1 + 4 + 2
	for _, op := range p.Ops {
		n += 1 + codec.String.SizeOf(op.Collection) + 4
		for _, id := range op.IDs {
			n += codec.String.SizeOf(id)
		}
		for _, e := range op.Entries {
			n += codec.String.SizeOf(e.ID)
			if op.Kind == OpChanged {
				n += e.Schema.Partial().SizeOf(e.Fields)
			} else {
				n += e.Schema.SizeOf(e.Fields)
			}
		}
	}
	if len(p.Events) > 0 {
		n += 2
		for _, ev := range p.Events {
			n += codec.String.SizeOf(ev.Name) + ev.Schema.SizeOf(ev.Payload)
		}
	}
	return n
}

// EncodePatch serializes p.
func EncodePatch(p *Patch) ([]byte, error) {
	if len(p.Ops) > 0xFFFF || len(p.Events) > 0xFFFF {
		return nil, fmt.Errorf("protocol: %d ops, %d events exceed one patch", len(p.Ops), len(p.Events))
	}
	w := codec.NewWriter(SizeOf(p))
	w.WriteU16(uint16(MsgPatch))
	var flags uint8
	if p.Full {
		flags |= flagFull
	}
	if len(p.Events) > 0 {
		flags |= flagEvents
	}
	w.WriteU8(flags)
	w.WriteU32(p.Tick)
	w.WriteU16(uint16(len(p.Ops)))
	for _, op := range p.Ops {
		w.WriteU8(uint8(op.Kind))
		w.WriteString(op.Collection)
		switch op.Kind {
		case OpRemoved:
			w.WriteU32(uint32(len(op.IDs)))
			for _, id := range op.IDs {
				w.WriteString(id)
			}
		case OpAdded, OpChanged:
			w.WriteU32(uint32(len(op.Entries)))
			for _, e := range op.Entries {
				w.WriteString(e.ID)
				var err error
				if op.Kind == OpChanged {
					err = e.Schema.Partial().Encode(w, e.Fields)
				} else {
					err = e.Schema.Encode(w, e.Fields)
				}
				if err != nil {
					return nil, fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, e.ID, err)
				}
			}
		default:
			return nil, fmt.Errorf("protocol: unknown op kind %d", op.Kind)
		}
	}
	if len(p.Events) > 0 {
		w.WriteU16(uint16(len(p.Events)))
		for _, ev := range p.Events {
			w.WriteString(ev.Name)
			if err := ev.Schema.Encode(w, ev.Payload); err != nil {
				return nil, fmt.Errorf("event %s: %w", ev.Name, err)
			}
		}
	}
	return w.Bytes(), nil
}

// DecodePatch parses a MsgPatch, resolving entity schemas through reg.
func DecodePatch(reg *codec.Registry, data []byte) (*Patch, error) {
	r := codec.NewReader(data)
	if err := expect(r, MsgPatch); err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	p := &Patch{Full: flags&flagFull != 0}
	if p.Tick, err = r.ReadU32(); err != nil {
		return nil, err
	}
	nops, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	p.Ops = make([]Op, 0, nops)
	for i := 0; i < int(nops); i++ {
		op, err := decodeOp(reg, r)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		p.Ops = append(p.Ops, op)
	}
	if flags&flagEvents != 0 {
		if p.Events, err = decodeEvents(reg, r); err != nil {
			return nil, err
		}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("protocol: %d trailing bytes after patch", r.Remaining())
	}
	return p, nil
}

func decodeOp(reg *codec.Registry, r *codec.Reader) (Op, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return Op{}, err
	}
	op := Op{Kind: OpKind(kind)}
	if op.Collection, err = r.ReadString(); err != nil {
		return Op{}, err
	}
	n, err := r.ReadU32()
	if err != nil {
		return Op{}, err
	}
	if int(n) > r.Remaining() {
		return Op{}, fmt.Errorf("%w: %d entries exceed payload", codec.ErrShortBuffer, n)
	}
	switch op.Kind {
	case OpRemoved:
		op.IDs = make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.ReadString()
			if err != nil {
				return Op{}, err
			}
			op.IDs = append(op.IDs, id)
		}
	case OpAdded, OpChanged:
		op.Entries = make([]Entry, 0, n)
		for i := uint32(0); i < n; i++ {
			id, err := r.ReadString()
			if err != nil {
				return Op{}, err
			}
			var (
				schema *codec.Object
				fields codec.Fields
			)
			if op.Kind == OpChanged {
				schema, fields, err = reg.DecodePartial(r)
			} else {
				schema, fields, err = reg.Decode(r)
			}
			if err != nil {
				return Op{}, fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, id, err)
			}
			op.Entries = append(op.Entries, Entry{ID: id, Schema: schema, Fields: fields})
		}
	default:
		return Op{}, fmt.Errorf("%w: op kind %d", ErrMessageType, kind)
	}
	return op, nil
}

func decodeEvents(reg *codec.Registry, r *codec.Reader) ([]Event, error) {
	n, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, n)
	for i := 0; i < int(n); i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		schema, payload, err := reg.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", name, err)
		}
		events = append(events, Event{Name: name, Schema: schema, Payload: payload})
	}
	return events, nil
}

// EncodeHello builds the handshake carrying the server's schema fingerprint.
func EncodeHello(fingerprint [32]byte) []byte {
	w := codec.NewWriter(2 + len(fingerprint))
	w.WriteU16(uint16(MsgHello))
	w.WriteBytes(fingerprint[:])
	return w.Bytes()
}

// CheckHello verifies a handshake against the local schema fingerprint.
func CheckHello(data []byte, local [32]byte) error {
	r := codec.NewReader(data)
	if err := expect(r, MsgHello); err != nil {
		return err
	}
	remote, err := r.ReadBytes(len(local))
	if err != nil {
		return err
	}
	if !bytes.Equal(remote, local[:]) {
		return fmt.Errorf("%w: server %x, client %x", ErrFingerprint, remote[:4], local[:4])
	}
	return nil
}

// EncodeResync builds the client's request for a full state resend.
func EncodeResync() []byte {
	w := codec.NewWriter(2)
	w.WriteU16(uint16(MsgResync))
	return w.Bytes()
}

// PeekType returns the message type without consuming data.
func PeekType(data []byte) (codec.TypeID, error) {
	id, err := codec.NewReader(data).PeekU16()
	return codec.TypeID(id), err
}

func expect(r *codec.Reader, want codec.TypeID) error {
	id, err := r.ReadU16()
	if err != nil {
		return err
	}
	if codec.TypeID(id) != want {
		return fmt.Errorf("%w: got %#04x, want %#04x", ErrMessageType, id, uint16(want))
	}
	return nil
}
