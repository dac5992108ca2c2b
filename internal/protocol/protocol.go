// Package protocol defines the framed messages exchanged between a session
// daemon and its attached clients over a Unix domain socket.
//
// Every message is a 5-byte header followed by a payload:
//
//	[1 byte type][4 bytes big-endian payload length][payload]
//
// HELLO must be the first message a client sends; it carries the client's
// initial window size. After that, DATA flows in both directions, WINCH and
// DETACH flow client→daemon, and EXIT is the daemon's final word.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message types.
const (
	MsgData   byte = 0x01 // raw PTY bytes (bidirectional)
	MsgWinch  byte = 0x02 // window resize (client → daemon)
	MsgDetach byte = 0x03 // clean detach (client → daemon)
	MsgExit   byte = 0x04 // child exit code (daemon → client)
	MsgHello  byte = 0x05 // handshake with initial window size (client → daemon)
)

// MaxPayload caps a single frame. Larger frames close the connection.
const MaxPayload = 1 << 20

const headerLen = 5

// WriteMessage writes one framed message to w. It is the single choke point
// for every frame the daemon or client puts on the wire; w's own deadline
// bounds how long a blocked peer can stall the write.
func WriteMessage(w io.Writer, msgType byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	header := make([]byte, headerLen)
	header[0] = msgType
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads exactly one framed message from r.
func ReadMessage(r io.Reader) (msgType byte, payload []byte, err error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	msgType = header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxPayload {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return msgType, payload, nil
}

// EncodeWinsize packs cols and rows as two big-endian uint16s, the payload
// shape shared by HELLO and WINCH.
func EncodeWinsize(cols, rows uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], cols)
	binary.BigEndian.PutUint16(payload[2:4], rows)
	return payload
}

// ParseWinsize unpacks a HELLO or WINCH payload.
func ParseWinsize(payload []byte) (cols, rows uint16, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("invalid winsize payload length: %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}

// WriteData writes a DATA message.
func WriteData(w io.Writer, data []byte) error {
	return WriteMessage(w, MsgData, data)
}

// WriteHello writes the handshake message with the client's window size.
func WriteHello(w io.Writer, cols, rows uint16) error {
	return WriteMessage(w, MsgHello, EncodeWinsize(cols, rows))
}

// WriteWinch writes a window-resize message.
func WriteWinch(w io.Writer, cols, rows uint16) error {
	return WriteMessage(w, MsgWinch, EncodeWinsize(cols, rows))
}

// WriteDetach writes an empty DETACH message.
func WriteDetach(w io.Writer) error {
	return WriteMessage(w, MsgDetach, nil)
}

// WriteExit writes the final EXIT message carrying the child's exit code.
func WriteExit(w io.Writer, code byte) error {
	return WriteMessage(w, MsgExit, []byte{code})
}
