package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ReadRecent returns the last n lines of the file at path, oldest first.
// A missing file yields an empty result.
func ReadRecent(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	buffer := NewRingBuffer(n)
	if err := readLines(file, buffer.Add); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return buffer.GetLines(), nil
}

// readLines feeds each sanitized line of r to fn. A trailing line without a
// newline is still delivered.
func readLines(r io.Reader, fn func(string)) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fn(SanitizeLine(strings.TrimRight(line, "\r\n")))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
