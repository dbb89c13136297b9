// Package network gossips transactions and blocks between arena nodes over
// TCP (optionally mutual TLS) using length-prefixed JSON messages.
package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MsgType labels a network message.
type MsgType string

const (
	MsgHello     MsgType = "hello"
	MsgTx        MsgType = "tx"
	MsgBlock     MsgType = "block"
	MsgGetBlocks MsgType = "get_blocks"
	MsgBlocks    MsgType = "blocks"
)

// maxMessageSize caps a single frame; a full blocks batch fits well within it.
const maxMessageSize = 32 << 20

// Message is the envelope for all P2P communication.
type Message struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage encodes v as the payload of a typ message.
func NewMessage(typ MsgType, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Message{Type: typ, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Identity is what a node announces in its hello. Nodes only talk to peers
// running the same chain with the same genesis rules.
type Identity struct {
	NodeID    string `json:"node_id"`
	ChainID   string `json:"chain_id"`
	GenesisID string `json:"genesis_id"`
}

// Compatible reports whether other runs the same chain as id.
func (id Identity) Compatible(other Identity) error {
	if other.ChainID != id.ChainID {
		return fmt.Errorf("chain %q, want %q", other.ChainID, id.ChainID)
	}
	if other.GenesisID != id.GenesisID {
		return fmt.Errorf("genesis %.12s differs from ours %.12s", other.GenesisID, id.GenesisID)
	}
	return nil
}

func writeFrame(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("%s message too large: %d bytes", msg.Type, len(data))
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	_, err = w.Write(frame)
	return err
}

func readFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxMessageSize {
		return Message{}, fmt.Errorf("message too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
