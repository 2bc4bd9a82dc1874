// Package auth implements the BlockDataSig HTTP authorization scheme. A
// server challenges with a recent block hash and height; the client answers
// by signing that block data with the wallet key.
package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Scheme is the authorization scheme name.
const Scheme = "BlockDataSig"

// Delimiter separates payload and signature inside a response token.
const Delimiter = ":::"

// ErrBadChallenge is returned when a challenge header cannot be parsed.
var ErrBadChallenge = errors.New("malformed BlockDataSig challenge")

// Challenge is the block data a server asks the client to sign.
type Challenge struct {
	BlockHash   string `json:"blockhash"`
	BlockHeight string `json:"blockheight"`
}

// ParseChallenge parses a WWW-Authenticate style header of the form
//
//	BlockDataSig blockhash=<64 hex> blockheight=<digits>
//
// Any deviation yields None.
func ParseChallenge(header string) fn.Option[Challenge] {
	parts := strings.Fields(header)
	if len(parts) != 3 || parts[0] != Scheme {
		return fn.None[Challenge]()
	}

	var (
		c                    Challenge
		haveHash, haveHeight bool
	)
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			return fn.None[Challenge]()
		}
		switch key {
		case "blockhash":
			if haveHash || !isBlockHash(value) {
				return fn.None[Challenge]()
			}
			c.BlockHash, haveHash = value, true
		case "blockheight":
			if haveHeight || !isDigits(value) {
				return fn.None[Challenge]()
			}
			c.BlockHeight, haveHeight = value, true
		default:
			return fn.None[Challenge]()
		}
	}

	return fn.Some(c)
}

// Header renders the challenge as a header value.
func (c Challenge) Header() string {
	return fmt.Sprintf("%s blockhash=%s blockheight=%s", Scheme, c.BlockHash, c.BlockHeight)
}

// Payload is the JSON document the client signs.
func (c Challenge) Payload() string {
	// Two string fields cannot fail to marshal.
	data, _ := json.Marshal(c)
	return string(data)
}

func isBlockHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Response is a signed answer to a challenge.
type Response struct {
	Payload   string
	Signature string
}

// Encode renders the response as an Authorization header value. Payload
// and signature must not contain the delimiter.
func (r Response) Encode() string {
	token := base64.StdEncoding.EncodeToString([]byte(r.Payload + Delimiter + r.Signature))
	return Scheme + " " + token
}

// ParseResponse decodes an Authorization header produced by Encode. A
// wrong scheme, bad base64, missing delimiter or an empty half yields None.
func ParseResponse(header string) fn.Option[Response] {
	token, ok := strings.CutPrefix(header, Scheme+" ")
	if !ok {
		return fn.None[Response]()
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return fn.None[Response]()
	}

	payload, signature, ok := strings.Cut(string(raw), Delimiter)
	if !ok || payload == "" || signature == "" {
		return fn.None[Response]()
	}

	return fn.Some(Response{Payload: payload, Signature: signature})
}

// Signer signs a message with the wallet key.
type Signer interface {
	SignMessage(msg string) (string, error)
}

// Respond answers a challenge header. The signature covers the challenge's
// JSON payload.
func Respond(header string, signer Signer) (string, error) {
	challenge, err := ParseChallenge(header).UnwrapOrErr(ErrBadChallenge)
	if err != nil {
		return "", err
	}

	payload := challenge.Payload()
	sig, err := signer.SignMessage(payload)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}

	return Response{Payload: payload, Signature: sig}.Encode(), nil
}
