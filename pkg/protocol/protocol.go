// Package protocol implements the member wire format.
//
// Every message is a frame: a 4-byte big-endian body length followed by an
// XDR encoded body.
//
//	struct request {
//	    string command<>;
//	    string args<>;
//	    opaque payload<>;
//	};
//
//	struct response {
//	    unsigned int status;   /* 0 = success, 1 = error */
//	};
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Commands understood by a member.
const (
	CommandAuth   = "AUTH"
	CommandPing   = "PING"
	CommandLogout = "LOGOUT"
)

// DefaultMaxFrameSize bounds a frame body unless configured otherwise.
const DefaultMaxFrameSize = 1 << 20

const headerSize = 4

var (
	// ErrFrameTooLarge is returned when a frame exceeds the size limit.
	ErrFrameTooLarge = errors.New("protocol: frame too large")

	// ErrMalformedFrame is returned when a frame body cannot be decoded.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// Status is the result code of a Response.
type Status uint32

const (
	StatusSuccess Status = 0
	StatusError   Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Request is a client to member message.
type Request struct {
	Command string
	Args    []string
	Payload []byte
}

// Response is a member to client message. Errors carry no detail.
type Response struct {
	Status Status
}

// Codec reads and writes frames with a size limit.
type Codec struct {
	maxFrameSize int
}

// NewCodec returns a codec; maxFrameSize <= 0 selects DefaultMaxFrameSize.
func NewCodec(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// MaxFrameSize returns the body size limit.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// ReadFrame reads one frame body. io.EOF is returned unchanged when the peer
// closes cleanly between frames.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > uint32(c.maxFrameSize) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as one frame with a single Write call.
func (c *Codec) WriteFrame(w io.Writer, body []byte) error {
	if len(body) > c.maxFrameSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(body), c.maxFrameSize)
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadRequest reads and decodes one request frame.
func (c *Codec) ReadRequest(r io.Reader) (*Request, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(body)
}

// WriteRequest encodes and writes req.
func (c *Codec) WriteRequest(w io.Writer, req *Request) error {
	body, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return c.WriteFrame(w, body)
}

// ReadResponse reads and decodes one response frame.
func (c *Codec) ReadResponse(r io.Reader) (*Response, error) {
	body, err := c.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(body)
}

// WriteResponse encodes and writes resp.
func (c *Codec) WriteResponse(w io.Writer, resp *Response) error {
	body, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.WriteFrame(w, body)
}

// EncodeRequest returns the XDR body of req.
func EncodeRequest(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, req); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a request body. The command must be non-empty and the
// body fully consumed.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := decodeExact(body, &req); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}
	return &req, nil
}

// EncodeResponse returns the XDR body of resp.
func EncodeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, resp); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse parses a response body.
func DecodeResponse(body []byte) (*Response, error) {
	var resp Response
	if err := decodeExact(body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess && resp.Status != StatusError {
		return nil, fmt.Errorf("%w: unknown status %d", ErrMalformedFrame, uint32(resp.Status))
	}
	return &resp, nil
}

// decodeExact bounds every variable-length element by the body size, so a
// forged length prefix cannot trigger a large allocation.
func decodeExact(body []byte, v any) error {
	n, err := xdr.UnmarshalLimited(bytes.NewReader(body), v, uint(len(body)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if n != len(body) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(body)-n)
	}
	return nil
}
