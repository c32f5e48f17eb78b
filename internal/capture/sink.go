package capture

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// sink is a buffered output file.
type sink struct {
	f      *os.File
	closed bool
	*bufio.Writer
}

func createSink(path string) (*sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &sink{f: f, Writer: bufio.NewWriter(f)}, nil
}

// Close flushes buffered data and closes the file. Calls after the first
// are no-ops.
func (s *sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.Flush(), s.f.Close())
}
