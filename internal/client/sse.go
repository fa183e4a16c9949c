package client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Frame is one server-sent event: a name and its data line.
type Frame struct {
	Name string
	Data []byte
}

// Close frame payload sent by the server before ending a session.
type CloseReason struct {
	Reason string `json:"reason"`
}

// readFrames parses the text/event-stream format, dispatching one Frame
// per blank-line-terminated block. Unknown field names are skipped, as the
// format requires.
func readFrames(r io.Reader, handler func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data bytes.Buffer

	flush := func() error {
		if name == "" && data.Len() == 0 {
			return nil
		}
		frame := Frame{Name: name, Data: append([]byte(nil), data.Bytes()...)}
		name = ""
		data.Reset()
		return handler(frame)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Comment line, used by some servers as a keepalive.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return flush()
}
