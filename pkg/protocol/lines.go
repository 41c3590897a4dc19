package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	// MaxLineLength is the default maximum accepted line length in bytes,
	// excluding the line terminator.
	MaxLineLength = 4096

	// readBufferSize is the bufio buffer used under a Reader
	readBufferSize = 1024
)

var (
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// Reader splits a byte stream into protocol lines.
// Format: UTF-8 text terminated by "\n", optionally preceded by "\r".
type Reader struct {
	r      *bufio.Reader
	maxLen int
}

// NewReader wraps r. A maxLen <= 0 selects MaxLineLength.
func NewReader(r io.Reader, maxLen int) *Reader {
	if maxLen <= 0 {
		maxLen = MaxLineLength
	}
	return &Reader{
		r:      bufio.NewReaderSize(r, readBufferSize),
		maxLen: maxLen,
	}
}

// ReadLine returns the next line without its terminator.
// A final unterminated line before EOF is returned as a normal line;
// the following call reports io.EOF.
func (lr *Reader) ReadLine() (string, error) {
	var buf []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > lr.maxLen+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			break
		}
		return "", err
	}

	line := TrimLineEnding(string(buf))
	if len(line) > lr.maxLen {
		return "", ErrLineTooLong
	}
	return line, nil
}

// TrimLineEnding strips a trailing "\n" or "\r\n".
func TrimLineEnding(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// EncodeLines renders lines as a single newline-terminated block.
func EncodeLines(lines ...string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteLines writes all lines with a single Write call so that a block of
// lines from one sender is never split by another writer sharing w.
func WriteLines(w io.Writer, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := w.Write(EncodeLines(lines...))
	return err
}
