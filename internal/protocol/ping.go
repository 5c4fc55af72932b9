package protocol

// Ping is the keep-alive sent by the client and echoed by the server.
type Ping struct {
	Sequence byte
}

func (p *Ping) OpCode() byte { return OpPing }

func (p *Ping) Decode(frame []byte) error {
	if err := expectFixed(frame, OpPing, 2); err != nil {
		return err
	}
	p.Sequence = frame[1]
	return nil
}

func (p *Ping) Encode() []byte {
	return []byte{OpPing, p.Sequence}
}
