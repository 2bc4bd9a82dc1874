// Package rank encodes the fields of a RANK protocol vote: the protocol tag,
// sentiment, platform and the fixed-width profile and post identifiers that
// make up the vote's null-data output.
package rank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/lotus-rank/rankwallet/pkg/helpers"
)

// Tag is the protocol identifier pushed first in every vote output.
var Tag = []byte("RANK")

var (
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrUnknownSentiment = errors.New("unknown sentiment")
	ErrProfileID        = errors.New("invalid profile id")
	ErrPostID           = errors.New("invalid post id")
)

// Platform describes a social platform votes can target.
type Platform struct {
	Name         string
	ID           byte
	ProfileIDLen int
	PostIDLen    int
}

// Twitter is the only platform currently recognised.
var Twitter = Platform{
	Name:         "twitter",
	ID:           0x01,
	ProfileIDLen: 16,
	PostIDLen:    8,
}

var platforms = map[string]Platform{
	Twitter.Name: Twitter,
}

// ParsePlatform looks up a platform by name.
func ParsePlatform(name string) (Platform, error) {
	p, ok := platforms[strings.ToLower(name)]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
	return p, nil
}

// Sentiment is the direction of a vote.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
)

// ParseSentiment accepts "positive"/"negative" and the shorthands "up"/"down".
func ParseSentiment(s string) (Sentiment, error) {
	switch strings.ToLower(s) {
	case "positive", "up", "+":
		return Positive, nil
	case "negative", "down", "-":
		return Negative, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSentiment, s)
	}
}

// OpCode returns the script opcode a sentiment is encoded as.
func (s Sentiment) OpCode() (byte, error) {
	switch s {
	case Positive:
		return txscript.OP_1, nil
	case Negative:
		return txscript.OP_0, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSentiment, string(s))
	}
}

// EncodeProfileID returns id left-padded with zero bytes to the platform's
// profile width.
func (p Platform) EncodeProfileID(id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty", ErrProfileID)
	}
	if len(id) > p.ProfileIDLen {
		return nil, fmt.Errorf("%w: %q longer than %d bytes", ErrProfileID, id, p.ProfileIDLen)
	}
	return helpers.PadLeft([]byte(id), p.ProfileIDLen), nil
}

// EncodePostID returns the decimal post id as a big-endian integer of the
// platform's post width.
func (p Platform) EncodePostID(id string) ([]byte, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrPostID, id)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	if p.PostIDLen < 8 {
		if !helpers.IsZeroBytes(buf[:8-p.PostIDLen]) {
			return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrPostID, id, p.PostIDLen)
		}
		buf = buf[8-p.PostIDLen:]
	}
	return buf, nil
}

// Vote is a request to rank a profile, optionally narrowed to one post.
// Comment is accepted for callers but is not encoded on chain.
type Vote struct {
	Platform  Platform
	ProfileID string
	PostID    fn.Option[string]
	Sentiment Sentiment
	Comment   string
}

// Fields holds the encoded pushes of a vote output, in script order after
// OP_RETURN.
type Fields struct {
	Tag       []byte
	Sentiment byte
	Platform  []byte
	Profile   []byte
	Post      fn.Option[[]byte]
}

// Encode validates the vote and encodes each of its fields.
func (v Vote) Encode() (*Fields, error) {
	sentiment, err := v.Sentiment.OpCode()
	if err != nil {
		return nil, err
	}
	if _, ok := platforms[v.Platform.Name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, v.Platform.Name)
	}
	profile, err := v.Platform.EncodeProfileID(v.ProfileID)
	if err != nil {
		return nil, err
	}

	fields := &Fields{
		Tag:       Tag,
		Sentiment: sentiment,
		Platform:  []byte{v.Platform.ID},
		Profile:   profile,
		Post:      fn.None[[]byte](),
	}

	if v.PostID.IsSome() {
		post, err := v.Platform.EncodePostID(v.PostID.UnwrapOr(""))
		if err != nil {
			return nil, err
		}
		fields.Post = fn.Some(post)
	}

	return fields, nil
}

// Script assembles the null-data output script for the fields. The
// platform, profile and post are pushed with explicit OP_DATA_n opcodes so
// a one byte platform id is never collapsed into a small-integer opcode.
func (f *Fields) Script() ([]byte, error) {
	b := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(f.Tag).
		AddOp(f.Sentiment)
	pushFixed(b, f.Platform)
	pushFixed(b, f.Profile)

	f.Post.WhenSome(func(post []byte) {
		pushFixed(b, post)
	})

	return b.Script()
}

func pushFixed(b *txscript.ScriptBuilder, data []byte) {
	op := make([]byte, 0, len(data)+1)
	op = append(op, txscript.OP_DATA_1-1+byte(len(data)))
	b.AddOps(append(op, data...))
}
