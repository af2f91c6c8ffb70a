// Package token maps stored-message id ranges to short URL-safe tokens.
//
// A token is the base64url (unpadded) form of "id-<s>" or "id-<s>-<e>",
// where each number is the logical message id multiplied by the absolute
// value of the database channel id.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

const prefix = "id"

// ErrMalformed is returned for any token that does not decode to a valid range.
var ErrMalformed = errors.New("token: malformed")

// Range is an inclusive range of message ids. Start == End is a singleton.
type Range struct {
	Start int64
	End   int64
}

// Single returns the singleton range for id.
func Single(id int64) Range { return Range{Start: id, End: id} }

// Normalized returns r with Start <= End.
func (r Range) Normalized() Range {
	if r.Start > r.End {
		return Range{Start: r.End, End: r.Start}
	}
	return r
}

// Len is the number of ids in the normalized range.
func (r Range) Len() int64 {
	n := r.Normalized()
	return n.End - n.Start + 1
}

// IDs enumerates the normalized range in ascending order.
func (r Range) IDs() []int64 {
	n := r.Normalized()
	out := make([]int64, 0, n.End-n.Start+1)
	for id := n.Start; id <= n.End; id++ {
		out = append(out, id)
	}
	return out
}

type Codec struct {
	scale *big.Int
}

// New builds a codec scaled by |channelID|.
func New(channelID int64) (*Codec, error) {
	if channelID == 0 {
		return nil, errors.New("token: channel id must be non-zero")
	}
	s := new(big.Int).SetInt64(channelID)
	return &Codec{scale: s.Abs(s)}, nil
}

// Encode renders r in caller order; Decode normalizes.
func (c *Codec) Encode(r Range) string {
	var rec string
	if r.Start == r.End {
		rec = prefix + "-" + c.scaled(r.Start)
	} else {
		rec = prefix + "-" + c.scaled(r.Start) + "-" + c.scaled(r.End)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(rec))
}

func (c *Codec) Decode(tok string) (Range, error) {
	if tok == "" || strings.ContainsFunc(tok, notURLSafe) {
		return Range{}, ErrMalformed
	}
	if pad := len(tok) % 4; pad != 0 {
		tok += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.Strict().DecodeString(tok)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !utf8.Valid(raw) {
		return Range{}, ErrMalformed
	}

	parts := strings.Split(string(raw), "-")
	if parts[0] != prefix {
		return Range{}, ErrMalformed
	}
	switch len(parts) {
	case 2:
		id, err := c.unscale(parts[1])
		if err != nil {
			return Range{}, err
		}
		return Single(id), nil
	case 3:
		a, err := c.unscale(parts[1])
		if err != nil {
			return Range{}, err
		}
		b, err := c.unscale(parts[2])
		if err != nil {
			return Range{}, err
		}
		return Range{Start: a, End: b}.Normalized(), nil
	default:
		return Range{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(parts))
	}
}

// notURLSafe rejects what the decoder would otherwise skip, such as CR and LF.
func notURLSafe(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return false
	case r == '-', r == '_', r == '=':
		return false
	}
	return true
}

func (c *Codec) scaled(id int64) string {
	v := new(big.Int).SetInt64(id)
	return v.Mul(v, c.scale).String()
}

func (c *Codec) unscale(s string) (int64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, ErrMalformed
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, ErrMalformed
	}
	q, m := new(big.Int).QuoRem(v, c.scale, new(big.Int))
	if m.Sign() != 0 || q.Sign() <= 0 || !q.IsInt64() {
		return 0, ErrMalformed
	}
	return q.Int64(), nil
}
