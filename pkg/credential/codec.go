package credential

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// MaxEncodedSize bounds the size of an encoded credential.
const MaxEncodedSize = 64 * 1024

// ErrDecode is returned when bytes cannot be turned into a valid Credential.
var ErrDecode = errors.New("credential: decode failed")

// wireCredential is the XDR layout:
//
//	struct credential {
//	    unsigned int kind;
//	    string       username<>;
//	    string       password<>;
//	    string       mechanism<>;
//	    opaque       token<>;
//	};
type wireCredential struct {
	Kind      uint32
	Username  string
	Password  string
	Mechanism string
	Token     []byte
}

// Decode parses an XDR encoded credential. Any malformed, truncated, trailing
// or semantically invalid input yields an error wrapping ErrDecode.
func Decode(data []byte) (*Credential, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: payload too large (%d bytes)", ErrDecode, len(data))
	}

	var w wireCredential
	n, err := xdr.UnmarshalLimited(bytes.NewReader(data), &w, uint(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(data)-n)
	}

	c := &Credential{
		Kind:      Kind(w.Kind),
		Username:  w.Username,
		Password:  w.Password,
		Mechanism: w.Mechanism,
	}
	if len(w.Token) > 0 {
		c.Token = w.Token
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return c, nil
}

// Encode serializes c. Origin is not encoded.
func Encode(c *Credential) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := wireCredential{
		Kind:      uint32(c.Kind),
		Username:  c.Username,
		Password:  c.Password,
		Mechanism: c.Mechanism,
		Token:     c.Token,
	}
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return buf.Bytes(), nil
}
