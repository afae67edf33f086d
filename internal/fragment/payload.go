package fragment

import (
	"encoding/base64"
	"strings"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// DecodePayload extracts the human-readable memo from the invoice payload: a
// base64 BOC whose root cell carries a 32-bit text-comment opcode followed
// by a snake-encoded string. Fragment strips base64 padding, so it is
// restored before decoding.
//
// The memo attributes the transfer to the purchase request, but a payment
// can still be sent without one, so every decode failure yields "" instead
// of an error.
func DecodePayload(payload string) string {
	if payload == "" {
		return ""
	}

	padded := payload + strings.Repeat("=", (4-len(payload)%4)%4)
	raw, err := base64.StdEncoding.DecodeString(padded)
	if err != nil {
		return ""
	}

	c, err := cell.FromBOC(raw)
	if err != nil {
		return ""
	}

	s := c.BeginParse()
	if _, err := s.LoadUInt(32); err != nil {
		return ""
	}
	memo, err := s.LoadStringSnake()
	if err != nil {
		return ""
	}
	return memo
}
