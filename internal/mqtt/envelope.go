package mqtt

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers.
const (
	fieldFrameNum   protowire.Number = 1
	fieldCapturedNs protowire.Number = 2
	fieldWidth      protowire.Number = 3
	fieldHeight     protowire.Number = 4
	fieldJPEG       protowire.Number = 5
)

// Envelope is the framed payload published when format is "envelope".
type Envelope struct {
	FrameNum uint64
	Captured time.Time
	Width    int
	Height   int
	JPEG     []byte
}

// EncodeEnvelope serializes e in protobuf wire format.
func EncodeEnvelope(e Envelope) []byte {
	b := make([]byte, 0, len(e.JPEG)+32)
	b = protowire.AppendTag(b, fieldFrameNum, protowire.VarintType)
	b = protowire.AppendVarint(b, e.FrameNum)
	if !e.Captured.IsZero() {
		b = protowire.AppendTag(b, fieldCapturedNs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Captured.UnixNano()))
	}
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Width))
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Height))
	b = protowire.AppendTag(b, fieldJPEG, protowire.BytesType)
	b = protowire.AppendBytes(b, e.JPEG)
	return b
}

var errTruncated = errors.New("truncated envelope")

// DecodeEnvelope parses an envelope. Unknown fields are skipped.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldHeight:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldFrameNum:
				e.FrameNum = v
			case fieldCapturedNs:
				e.Captured = time.Unix(0, int64(v))
			case fieldWidth:
				e.Width = int(v)
			case fieldHeight:
				e.Height = int(v)
			}
		case typ == protowire.BytesType && num == fieldJPEG:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(n))
			}
			e.JPEG = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("%w: field %d: %v", errTruncated, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}
