package query

import (
	"encoding/base64"
	"math"
	"strconv"
)

// Cursor is offset pagination behind an opaque token. It is deliberately a
// different type from Page so the two schemes cannot be mixed up.
type Cursor struct {
	Offset int
	Size   int
}

// DecodeCursor reads a token produced by EncodeCursor. Empty, undecodable or
// negative tokens start from offset 0. size is clamped like Page sizes.
func DecodeCursor(token string, size int) Cursor {
	c := Cursor{Size: clampSize(size)}
	if token == "" {
		return c
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return c
	}
	c.Offset = n
	return c
}

// EncodeCursor renders an offset as an opaque token.
func EncodeCursor(offset int) string {
	if offset < 0 {
		offset = 0
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// Clause renders LIMIT/OFFSET using placeholders starting at next.
func (c Cursor) Clause(next int) (string, []any) {
	return "LIMIT $" + strconv.Itoa(next) + " OFFSET $" + strconv.Itoa(next+1), []any{c.Size, c.Offset}
}

// Next returns the token for the following page, or nil when fewer than Size
// rows came back or the next offset would not fit in an int.
func (c Cursor) Next(returned int) *string {
	if returned < c.Size || c.Offset > math.MaxInt-c.Size {
		return nil
	}
	token := EncodeCursor(c.Offset + c.Size)
	return &token
}
