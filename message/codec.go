package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	flagReply  byte = 0x80
	flagError  byte = 0x40
	flagOneWay byte = 0x20

	// headerLen is flags(1) + id(4) + action length(1).
	headerLen = 6

	// MaxActionLen is the longest action name the binary codec can carry.
	MaxActionLen = 255
)

// Errors returned by BinaryCodec.
var (
	// ErrShortMessage is returned when data is shorter than its header says.
	ErrShortMessage = errors.New("message: short message")
	// ErrActionTooLong is returned by Encode for names over MaxActionLen bytes.
	ErrActionTooLong = errors.New("message: action name too long")
	// ErrUnknownFlags is returned when the flag byte has undefined bits set.
	ErrUnknownFlags = errors.New("message: unknown flag bits")
	// ErrNilMessage is returned by Encode for a nil message.
	ErrNilMessage = errors.New("message: nil message")
	// ErrMissingErrCode is returned when the error flag is set but the code
	// field is truncated.
	ErrMissingErrCode = errors.New("message: error flag set without code")
)

// Codec converts messages to and from the payload of a single frame. Codecs
// must be safe for concurrent use.
type Codec interface {
	// Encode serializes msg.
	Encode(msg *Message) ([]byte, error)

	// Decode parses one frame payload into a Message.
	Decode(data []byte) (*Message, error)
}

// BinaryCodec is the default wire format:
//
//	flags(1) | id(4, little-endian) | actionLen(1) | action | [code(4, little-endian)] | payload
//
// Flag bits: 0x80 reply, 0x40 error, 0x20 one-way. The code field is present
// only when the error flag is set.
type BinaryCodec struct{}

// NewBinaryCodec returns the default message codec.
func NewBinaryCodec() Codec {
	return BinaryCodec{}
}

// Encode implements Codec.
func (BinaryCodec) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	if len(msg.Action) > MaxActionLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrActionTooLong, len(msg.Action))
	}

	size := headerLen + len(msg.Action) + len(msg.Payload)
	if msg.Error {
		size += 4
	}

	buf := make([]byte, size)
	var flags byte
	if msg.Reply {
		flags |= flagReply
	}
	if msg.Error {
		flags |= flagError
	}
	if msg.OneWay {
		flags |= flagOneWay
	}

	buf[0] = flags
	binary.LittleEndian.PutUint32(buf[1:5], msg.ID)
	buf[5] = byte(len(msg.Action))
	off := headerLen + copy(buf[headerLen:], msg.Action)
	if msg.Error {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(msg.Code))
		off += 4
	}

	copy(buf[off:], msg.Payload)
	return buf, nil
}

// Decode implements Codec. The returned payload does not alias data.
func (BinaryCodec) Decode(data []byte) (*Message, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}

	flags := data[0]
	if flags&^(flagReply|flagError|flagOneWay) != 0 {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFlags, flags)
	}

	msg := &Message{
		ID:     binary.LittleEndian.Uint32(data[1:5]),
		Reply:  flags&flagReply != 0,
		Error:  flags&flagError != 0,
		OneWay: flags&flagOneWay != 0,
	}

	actionLen := int(data[5])
	off := headerLen
	if len(data) < off+actionLen {
		return nil, fmt.Errorf("%w: action truncated", ErrShortMessage)
	}

	msg.Action = string(data[off : off+actionLen])
	off += actionLen

	if msg.Error {
		if len(data) < off+4 {
			return nil, ErrMissingErrCode
		}

		msg.Code = int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}

	if off < len(data) {
		msg.Payload = make([]byte, len(data)-off)
		copy(msg.Payload, data[off:])
	}

	return msg, nil
}
