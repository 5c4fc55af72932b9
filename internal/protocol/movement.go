package protocol

// Direction is the 3-bit facing plus the running flag.
type Direction byte

const (
	DirectionNorth Direction = iota
	DirectionNorthEast
	DirectionEast
	DirectionSouthEast
	DirectionSouth
	DirectionSouthWest
	DirectionWest
	DirectionNorthWest

	directionMask Direction = 0x07
	// DirectionRunning is OR-ed into the facing when the client runs.
	DirectionRunning Direction = 0x80
)

// Facing strips the running flag.
func (d Direction) Facing() Direction { return d & directionMask }

// IsRunning reports whether the running flag is set.
func (d Direction) IsRunning() bool { return d&DirectionRunning != 0 }

// MoveRequest asks the server to step the player one tile.
type MoveRequest struct {
	Direction   Direction
	Sequence    byte
	FastWalkKey uint32
}

func (p *MoveRequest) OpCode() byte { return OpMoveRequest }

func (p *MoveRequest) Decode(frame []byte) error {
	if err := expectFixed(frame, OpMoveRequest, 7); err != nil {
		return err
	}
	r := NewReader(frame[1:])
	p.Direction = Direction(r.ReadUint8())
	p.Sequence = r.ReadUint8()
	p.FastWalkKey = r.ReadUint32()
	return r.Err()
}

func (p *MoveRequest) Encode() []byte {
	return NewPacketBuilder(OpMoveRequest).
		WriteUint8(byte(p.Direction)).
		WriteUint8(p.Sequence).
		WriteUint32(p.FastWalkKey).
		Build()
}
