// Package bridge spawns external MCP tool-provider processes and speaks
// length-prefixed JSON-RPC to them over their stdio.
package bridge

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxHeaderBytes caps the frame header block; a stream that never produces a
// complete header within this budget is corrupt.
const maxHeaderBytes = 8 * 1024

// maxBodyBytes caps a single framed message body.
const maxBodyBytes = 16 << 20 // 16MB

// WriteFrame writes one length-prefixed message:
// "Content-Length: <n>\r\n\r\n" followed by exactly n bytes of JSON.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// decoderState tracks what the incremental parser is waiting for.
type decoderState int

const (
	awaitingHeader decoderState = iota
	awaitingBody
)

// Decoder re-assembles framed messages from an arbitrary byte stream. The
// process stdio delivers arbitrary chunk boundaries, so a header and body
// may arrive across multiple reads and multiple complete messages may
// arrive in one read.
type Decoder struct {
	buf     bytes.Buffer
	state   decoderState
	bodyLen int
}

// Feed appends a chunk to the decoder and returns every complete message it
// now holds.
func (d *Decoder) Feed(p []byte) ([][]byte, error) {
	d.buf.Write(p)

	var messages [][]byte
	for {
		switch d.state {
		case awaitingHeader:
			n, ok, err := d.parseHeader()
			if err != nil {
				return messages, err
			}
			if !ok {
				return messages, nil
			}
			d.bodyLen = n
			d.state = awaitingBody

		case awaitingBody:
			if d.buf.Len() < d.bodyLen {
				return messages, nil
			}
			body := make([]byte, d.bodyLen)
			if _, err := io.ReadFull(&d.buf, body); err != nil {
				return messages, err
			}
			messages = append(messages, body)
			d.state = awaitingHeader
			d.bodyLen = 0
		}
	}
}

// parseHeader consumes a complete header block from the buffer if present
// and returns the announced body length.
func (d *Decoder) parseHeader() (int, bool, error) {
	data := d.buf.Bytes()
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	sepLen := 4
	if idx < 0 {
		// Tolerate bare-LF framing from lenient providers.
		idx = bytes.Index(data, []byte("\n\n"))
		sepLen = 2
	}
	if idx < 0 {
		if d.buf.Len() > maxHeaderBytes {
			return 0, false, fmt.Errorf("frame header exceeds %d bytes", maxHeaderBytes)
		}
		return 0, false, nil
	}

	header := string(data[:idx])
	d.buf.Next(idx + sepLen)

	length := -1
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimRight(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return 0, false, fmt.Errorf("invalid Content-Length %q", strings.TrimSpace(value))
			}
			length = n
		}
	}
	if length < 0 {
		return 0, false, fmt.Errorf("frame header missing Content-Length")
	}
	if length > maxBodyBytes {
		return 0, false, fmt.Errorf("frame body of %d bytes exceeds limit", length)
	}
	return length, true, nil
}
