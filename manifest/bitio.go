package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// readU8/readU32/readU64/readI64 read little-endian fixed-width integers.
func readU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readI32(r io.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readI64(r io.Reader) (int64, error) {
	v, err := readU64(r)
	return int64(v), err
}

func writeU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeI32(w io.Writer, v int32) error {
	return writeU32(w, uint32(v))
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeI64(w io.Writer, v int64) error {
	return writeU64(w, uint64(v))
}

func readGUID(r io.Reader) (GUID, error) {
	var g GUID
	for i := range g {
		v, err := readU32(r)
		if err != nil {
			return g, err
		}
		g[i] = v
	}
	return g, nil
}

func writeGUID(w io.Writer, g GUID) error {
	for _, v := range g {
		if err := writeU32(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFString reads a length-prefixed string: i32 length L. L==0 is empty,
// L>0 is L-1 ASCII bytes plus a null terminator, L<0 is UTF-16LE with a
// two-byte null terminator (|L| counts UTF-16 code units including the
// terminator).
func readFString(r io.Reader) (string, error) {
	length, err := readI32(r)
	if err != nil {
		return "", err
	}

	switch {
	case length == 0:
		return "", nil
	case length > 0:
		buf, err := readBytes(r, int(length)-1)
		if err != nil {
			return "", err
		}
		if _, err := readBytes(r, 1); err != nil { // null terminator
			return "", err
		}
		return string(buf), nil
	default:
		n := int(length) * -2
		buf, err := readBytes(r, n-2)
		if err != nil {
			return "", err
		}
		if _, err := readBytes(r, 2); err != nil { // two-byte null terminator
			return "", err
		}
		if len(buf)%2 != 0 {
			return "", fmt.Errorf("manifest: odd-length utf16 string payload")
		}
		units := make([]uint16, len(buf)/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(buf[i*2:])
		}
		return string(utf16.Decode(units)), nil
	}
}

// writeFString writes a length-prefixed string, attempting ASCII first and
// falling back to UTF-16LE (with negative length) on any non-ASCII rune.
func writeFString(w io.Writer, s string) error {
	if s == "" {
		return writeI32(w, 0)
	}

	if isASCII(s) {
		n := len(s)
		if err := writeI32(w, int32(n+1)); err != nil {
			return err
		}
		if _, err := w.Write([]byte(s)); err != nil {
			return err
		}
		return writeU8(w, 0)
	}

	units := utf16.Encode([]rune(s))
	if err := writeI32(w, -(int32(len(units)) + 1)); err != nil {
		return err
	}
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := w.Write([]byte{0, 0})
	return err
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// sectionReader wraps a *bytes.Reader so callers can track how many bytes
// a section actually consumed and seek past any undeclared trailing data.
type sectionReader struct {
	*bytes.Reader
}

func newSectionReader(b []byte) *sectionReader {
	return &sectionReader{Reader: bytes.NewReader(b)}
}

// pos returns the reader's current offset within its buffer.
func (s *sectionReader) pos() int64 {
	return posFrom(s.Reader)
}

// posFrom returns the reader's current absolute offset within its
// underlying buffer, read via Seek(0, io.SeekCurrent) since bytes.Reader
// doesn't expose it directly.
func posFrom(r *bytes.Reader) int64 {
	pos, _ := r.Seek(0, io.SeekCurrent)
	return pos
}

// seekPast advances the reader to absolute offset `to` within its buffer,
// failing if that would mean rewinding past bytes already read.
func seekPast(r *bytes.Reader, to int64) error {
	cur := posFrom(r)
	if to < cur {
		return fmt.Errorf("manifest: declared section size smaller than bytes already read (%d < %d)", to, cur)
	}
	if to == cur {
		return nil
	}
	_, err := r.Seek(to-cur, io.SeekCurrent)
	return err
}
