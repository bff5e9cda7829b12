package packet

// Frame layout (all integers little-endian):
//
//	[4B totalLength][2B type][4B sequence][payload]
//
// totalLength counts the header itself.
const (
	HeaderSize   = 10
	MaxFrameSize = 64 * 1024
	MaxPayload   = MaxFrameSize - HeaderSize
)

// Packet is one decoded frame. It is not modified after decode.
type Packet struct {
	Type     uint16
	Sequence uint32
	Payload  []byte
}

// Reader returns a field reader over the packet payload.
func (p Packet) Reader() *Reader {
	return NewReader(p.Payload)
}
