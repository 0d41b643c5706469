package ibtest

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxFrame = 1 << 24

// readFrame reads one length-prefixed message.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// fields walks the NUL separated fields of a request. Missing fields read
// as empty and numbers that do not parse read as zero; the first such
// failure is kept for Err.
type fields struct {
	parts []string
	pos   int
	err   error
}

func splitFields(payload []byte) *fields {
	s := strings.TrimSuffix(string(payload), "\x00")
	return &fields{parts: strings.Split(s, "\x00")}
}

func (f *fields) text() string {
	if f.pos >= len(f.parts) {
		if f.err == nil {
			f.err = fmt.Errorf("field %d missing", f.pos)
		}
		f.pos++
		return ""
	}
	s := f.parts[f.pos]
	f.pos++
	return s
}

func (f *fields) int() int64 {
	s := f.text()
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %d: %w", f.pos-1, err)
	}
	return v
}

func (f *fields) float() float64 {
	s := f.text()
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("field %d: %w", f.pos-1, err)
	}
	return v
}

func (f *fields) bool() bool {
	return f.int() != 0
}

func (f *fields) skip(n int) {
	for range n {
		f.text()
	}
}

func (f *fields) Err() error { return f.err }

// message builds a response the way the venue frames it: every field is
// text followed by a NUL.
type message struct {
	b strings.Builder
}

func newMessage(msgID int) *message {
	m := &message{}
	return m.int(int64(msgID))
}

func (m *message) text(s string) *message {
	m.b.WriteString(s)
	m.b.WriteByte(0)
	return m
}

func (m *message) int(v int64) *message {
	return m.text(strconv.FormatInt(v, 10))
}

func (m *message) float(v float64) *message {
	return m.text(strconv.FormatFloat(v, 'f', -1, 64))
}

func (m *message) bool(v bool) *message {
	if v {
		return m.text("1")
	}
	return m.text("0")
}

func (m *message) bytes() []byte {
	return []byte(m.b.String())
}
