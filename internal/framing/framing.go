package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize is the default upper bound for a single inbound line,
// terminator excluded.
const MaxLineSize = 4096

// ErrLineTooLong is returned by ReadLine when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// LineReader splits a byte stream into lines. Partial lines are carried
// across reads, so one Read on the underlying stream does not need to
// correspond to one line.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. A max of zero or less selects MaxLineSize.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = MaxLineSize
	}
	return &LineReader{
		r:   bufio.NewReaderSize(r, max+2),
		max: max,
	}
}

// ReadLine returns the next line with the terminator and surrounding
// whitespace removed. Both "\n" and "\r\n" terminate a line. A final line
// without a terminator is returned before io.EOF.
func (lr *LineReader) ReadLine() (string, error) {
	var buf bytes.Buffer
	for {
		chunk, err := lr.r.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > lr.max+2 {
			return "", fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, lr.max)
		}

		switch {
		case err == nil:
			return lr.finish(buf.Bytes())
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && buf.Len() > 0:
			return lr.finish(buf.Bytes())
		default:
			return "", err
		}
	}
}

func (lr *LineReader) finish(raw []byte) (string, error) {
	raw = bytes.TrimRight(raw, "\r\n")
	if len(raw) > lr.max {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, len(raw), lr.max)
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteLine writes s followed by a single "\n".
func WriteLine(w io.Writer, s string) error {
	data := make([]byte, 0, len(s)+1)
	data = append(data, s...)
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}
