package chat

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxFrameSize caps a single wire frame. Longer lines are truncated to this
// size and the remainder is discarded.
const MaxFrameSize = 4096

// Framer turns a raw byte stream into newline-delimited UTF-8 frames.
type Framer struct {
	r *bufio.Reader
}

func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, MaxFrameSize)}
}

// ReadFrame blocks for the next frame. Trailing "\r\n" or "\n" is stripped.
// A frame that is not valid UTF-8 yields ErrDecode; the caller decides
// whether to keep the connection. io.EOF is returned as-is so the read loop
// can distinguish peer close from transport faults.
func (f *Framer) ReadFrame() (string, error) {
	var buf []byte
	truncated := false
	for {
		chunk, err := f.r.ReadSlice('\n')
		if len(chunk) > 0 && !truncated {
			buf = append(buf, chunk...)
			if len(buf) > MaxFrameSize {
				buf = buf[:MaxFrameSize]
				truncated = true
			}
		}
		if err == bufio.ErrBufferFull {
			// Oversized line: keep discarding until the terminator.
			continue
		}
		if err == io.EOF {
			if len(buf) == 0 {
				return "", io.EOF
			}
			break // last line without newline
		}
		if err != nil {
			return "", fmt.Errorf("read frame: %w", err)
		}
		break
	}

	line := strings.TrimRight(string(buf), "\r\n")
	if !utf8.ValidString(line) {
		return "", ErrDecode
	}
	return line, nil
}
