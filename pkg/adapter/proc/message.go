package proc

import (
	"bufio"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Well-known message types. Hello doubles as the channel handshake
// (the worker announces itself with it) and as a health probe (the
// controller sends it and the worker answers with a good-day).
const (
	TypeHello    = "hello"
	TypeGoodDay  = "good-day"
	TypeShutdown = "shutdown"
)

// Message is one unit of communication with the worker process. It is
// encoded as a single JSON document per line. The Payload is kept raw,
// so each message type can define its own payload structure.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func writeMessage(w io.Writer, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

func readMessage(r *bufio.Reader) (Message, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshaling message: %w", err)
	}
	return m, nil
}
