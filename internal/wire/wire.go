// Package wire defines the messages exchanged between the scheduler, the
// masters and the workers.
//
// A frame is
//
//	version (1 byte) | tag (1 byte) | payload
//
// where the tag selects the message type and the payload layout. Integers
// are varints, floats are little-endian IEEE-754, strings and nested byte
// blobs are length prefixed. Unmarshal decodes every frame through a single
// switch on the tag and rejects unknown versions, unknown tags, truncated
// payloads and trailing bytes.
package wire

import (
	"github.com/pkg/errors"

	"github.com/dreamware/proxima/internal/encoder"
)

// Version is the schema version written into every frame.
const Version byte = 1

// Tag is the single-byte discriminant of a frame.
type Tag byte

const (
	TagRegister   Tag = 'r' // master or worker registration
	TagAssignment Tag = 'a' // registration reply
	TagRoute      Tag = 'o' // worker asks the scheduler who owns a range ('x' or 'g')
	TagDirectory  Tag = 'd' // routing reply
	TagFetch      Tag = 'x' // worker asks a master for its shard of x
	TagShard      Tag = 'v' // shard values reply
	TagGradient   Tag = 'g' // gradient contribution
	TagAck        Tag = 'u' // unblock / acknowledge; empty means "retry"
	TagSubscribe  Tag = 's' // long-poll on the broadcast channel
	TagAdvance    Tag = 'b' // broadcast: generation advanced
	TagTerminate  Tag = 't' // broadcast: run terminated
)

func (t Tag) String() string {
	return string(rune(t))
}

var (
	// ErrVersion is returned for frames written with another schema version.
	ErrVersion = errors.New("wire: unsupported schema version")
	// ErrMalformed is returned for frames that cannot be parsed.
	ErrMalformed = errors.New("wire: malformed frame")
)

// Message is implemented by every frame type.
type Message interface {
	Tag() Tag
	appendPayload(w *writer)
}

// Role of a registering peer.
type Role byte

const (
	RoleMaster Role = 'm'
	RoleWorker Role = 'w'
)

// Register announces a master (with its reachable address) or a worker.
type Register struct {
	Role Role
	ID   string
	Addr string
}

// Assignment answers a Register. Masters get their shard index in ID, the
// shard [Start, End) and its initial values; workers get their worker id in
// ID. Both learn the problem dimension.
type Assignment struct {
	ID     int
	Dim    int
	Start  int
	End    int
	Values []float64
}

// Route asks the scheduler which masters own [Lo, Hi). Kind is TagFetch or
// TagGradient depending on what the worker is about to do.
type Route struct {
	Kind   Tag
	Lo, Hi int
}

// ShardRoute is one entry of the shard directory.
type ShardRoute struct {
	Start, End int
	Addr       string
}

// Directory lists the shards intersecting a routed range, in index order.
type Directory struct {
	Shards []ShardRoute
}

// Fetch asks a master for its shard values. Masters always return the full
// shard regardless of the range.
type Fetch struct {
	Lo, Hi int
}

// ShardValues carries a master's shard and its iteration counter.
type ShardValues struct {
	Start  int
	K      int
	Values []float64
}

// GradientUpdate is one worker contribution to a master's shard.
type GradientUpdate struct {
	WorkerID int
	KLocal   int
	KGlobal  int
	FVal     float64
	Gradient encoder.Encoded
}

// Ack acknowledges a request. Empty acks tell the sender to retry.
// Masters also send a non-empty Ack to the scheduler after every update.
type Ack struct {
	K     int
	Empty bool
}

// Subscribe waits for a broadcast newer than Since. ID is the identity the
// subscriber registered under, so the scheduler knows who has seen the
// termination marker.
type Subscribe struct {
	Since int
	ID    string
}

// Advance is broadcast whenever the scheduler's generation moves.
type Advance struct {
	Generation int
}

// Terminate is broadcast once when the run ends.
type Terminate struct {
	Generation int
}

func (*Register) Tag() Tag       { return TagRegister }
func (*Assignment) Tag() Tag     { return TagAssignment }
func (*Route) Tag() Tag          { return TagRoute }
func (*Directory) Tag() Tag      { return TagDirectory }
func (*Fetch) Tag() Tag          { return TagFetch }
func (*ShardValues) Tag() Tag    { return TagShard }
func (*GradientUpdate) Tag() Tag { return TagGradient }
func (*Ack) Tag() Tag            { return TagAck }
func (*Subscribe) Tag() Tag      { return TagSubscribe }
func (*Advance) Tag() Tag        { return TagAdvance }
func (*Terminate) Tag() Tag      { return TagTerminate }

// Marshal encodes m into a frame.
func Marshal(m Message) []byte {
	w := &writer{buf: make([]byte, 0, 64)}
	w.buf = append(w.buf, Version, byte(m.Tag()))
	m.appendPayload(w)
	return w.buf
}

// Unmarshal decodes a frame.
func Unmarshal(frame []byte) (Message, error) {
	if len(frame) < 2 {
		return nil, errors.Wrapf(ErrMalformed, "frame of %d bytes", len(frame))
	}
	if frame[0] != Version {
		return nil, errors.Wrapf(ErrVersion, "got %d, want %d", frame[0], Version)
	}
	r := &reader{buf: frame[2:]}
	var m Message
	switch tag := Tag(frame[1]); tag {
	case TagRegister:
		m = &Register{Role: Role(r.u8()), ID: r.str(), Addr: r.str()}
	case TagAssignment:
		m = &Assignment{ID: r.varint(), Dim: r.varint(), Start: r.varint(), End: r.varint(), Values: r.f64s()}
	case TagRoute:
		m = &Route{Kind: Tag(r.u8()), Lo: r.varint(), Hi: r.varint()}
	case TagDirectory:
		n := r.count()
		d := &Directory{}
		for i := 0; i < n && r.err == nil; i++ {
			d.Shards = append(d.Shards, ShardRoute{Start: r.varint(), End: r.varint(), Addr: r.str()})
		}
		m = d
	case TagFetch:
		m = &Fetch{Lo: r.varint(), Hi: r.varint()}
	case TagShard:
		m = &ShardValues{Start: r.varint(), K: r.varint(), Values: r.f64s()}
	case TagGradient:
		u := &GradientUpdate{WorkerID: r.varint(), KLocal: r.varint(), KGlobal: r.varint(), FVal: r.f64()}
		blob := r.bytes()
		if r.err == nil {
			g, err := encoder.Unmarshal(blob)
			if err != nil {
				return nil, errors.Wrap(ErrMalformed, err.Error())
			}
			u.Gradient = g
		}
		m = u
	case TagAck:
		m = &Ack{K: r.varint(), Empty: r.u8() != 0}
	case TagSubscribe:
		m = &Subscribe{Since: r.varint(), ID: r.str()}
	case TagAdvance:
		m = &Advance{Generation: r.varint()}
	case TagTerminate:
		m = &Terminate{Generation: r.varint()}
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown tag %q", byte(tag))
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing bytes after %q", len(r.buf), m.Tag())
	}
	return m, nil
}

func (m *Register) appendPayload(w *writer) {
	w.u8(byte(m.Role))
	w.str(m.ID)
	w.str(m.Addr)
}

func (m *Assignment) appendPayload(w *writer) {
	w.varint(m.ID)
	w.varint(m.Dim)
	w.varint(m.Start)
	w.varint(m.End)
	w.f64s(m.Values)
}

func (m *Route) appendPayload(w *writer) {
	w.u8(byte(m.Kind))
	w.varint(m.Lo)
	w.varint(m.Hi)
}

func (m *Directory) appendPayload(w *writer) {
	w.varint(len(m.Shards))
	for _, s := range m.Shards {
		w.varint(s.Start)
		w.varint(s.End)
		w.str(s.Addr)
	}
}

func (m *Fetch) appendPayload(w *writer) {
	w.varint(m.Lo)
	w.varint(m.Hi)
}

func (m *ShardValues) appendPayload(w *writer) {
	w.varint(m.Start)
	w.varint(m.K)
	w.f64s(m.Values)
}

func (m *GradientUpdate) appendPayload(w *writer) {
	w.varint(m.WorkerID)
	w.varint(m.KLocal)
	w.varint(m.KGlobal)
	w.f64(m.FVal)
	w.bytes(encoder.Marshal(nil, m.Gradient))
}

func (m *Ack) appendPayload(w *writer) {
	w.varint(m.K)
	if m.Empty {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (m *Subscribe) appendPayload(w *writer) {
	w.varint(m.Since)
	w.str(m.ID)
}

func (m *Advance) appendPayload(w *writer)   { w.varint(m.Generation) }
func (m *Terminate) appendPayload(w *writer) { w.varint(m.Generation) }
