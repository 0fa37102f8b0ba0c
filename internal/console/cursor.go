package console

import (
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"strings"
)

const (
	// MaxLineBytes caps one log line. Longer lines are cut, the rest is dropped.
	MaxLineBytes = 64 * 1024

	// MaxReadLines caps the lines ReadNew returns. Older lines of a larger
	// backlog are skipped.
	MaxReadLines = 10000
)

// LogCursor reads lines appended to a log file since the previous read.
// A shrunk file is treated as truncated and read from the start. A cursor
// is not safe for concurrent use.
type LogCursor struct {
	path    string
	offset  int64
	partial []byte
}

// NewLogCursor creates a cursor positioned at the current end of path, so
// only output written afterwards is returned. A missing file starts at zero.
func NewLogCursor(path string) *LogCursor {
	c := &LogCursor{path: path}
	if info, err := os.Stat(path); err == nil {
		c.offset = info.Size()
	}
	return c
}

// Path returns the file the cursor reads
func (c *LogCursor) Path() string {
	return c.path
}

// Each streams complete, sanitized lines appended since the last call to fn
// and returns how many it delivered. Memory use is bounded by MaxLineBytes
// however large the backlog is. A trailing line without newline is held
// back until it is completed. Read errors stop the scan early.
func (c *LogCursor) Each(fn func(line string)) int {
	file, err := os.Open(c.path)
	if err != nil {
		return 0
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0
	}
	size := info.Size()
	if size < c.offset {
		c.offset = 0
		c.partial = nil
	}
	if size == c.offset {
		return 0
	}
	if _, err := file.Seek(c.offset, io.SeekStart); err != nil {
		return 0
	}

	// Stop at the size seen above so a busy writer cannot keep the scan going
	reader := bufio.NewReaderSize(io.LimitReader(file, size-c.offset), 32*1024)
	count := 0
	for {
		chunk, err := reader.ReadSlice('\n')
		c.offset += int64(len(chunk))

		switch {
		case err == nil:
			c.appendPartial(chunk[:len(chunk)-1])
			fn(SanitizeLine(strings.TrimRight(string(c.partial), "\r")))
			c.partial = c.partial[:0]
			count++
		case errors.Is(err, bufio.ErrBufferFull):
			c.appendPartial(chunk)
		case errors.Is(err, io.EOF):
			c.appendPartial(chunk)
			return count
		default:
			log.Printf("[Console] Failed to read %s: %v", c.path, err)
			return count
		}
	}
}

// appendPartial grows the pending line up to MaxLineBytes
func (c *LogCursor) appendPartial(b []byte) {
	if room := MaxLineBytes - len(c.partial); room < len(b) {
		if room <= 0 {
			return
		}
		b = b[:room]
	}
	c.partial = append(c.partial, b...)
}

// ReadNew returns the lines appended since the last call, keeping only the
// newest MaxReadLines of them.
func (c *LogCursor) ReadNew() []string {
	var buffer *RingBuffer
	c.Each(func(line string) {
		if buffer == nil {
			buffer = NewRingBuffer(MaxReadLines)
		}
		buffer.Add(line)
	})
	if buffer == nil {
		return nil
	}
	return buffer.GetLines()
}
