package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// errSourceClosed is returned by ReadEvent after Close.
var errSourceClosed = errors.New("event source closed")

// eventSource is one open device session. ReadEvent blocks until the next
// event arrives; it returns an error once the device is gone or Close has
// been called (Close must unblock a pending ReadEvent).
type eventSource interface {
	ReadEvent() (inputEvent, error)
	Name() string
	Close() error
}

// sourceOpener acquires a device session for a device identifier.
type sourceOpener func(device string) (eventSource, error)

// rawSource decodes input_event records straight from a character device
// (or any reader producing the same byte layout).
type rawSource struct {
	name   string
	rc     io.ReadCloser
	buf    []byte
	reader *bytes.Reader
}

// newRawSource wraps rc; name is used for logging only.
func newRawSource(name string, rc io.ReadCloser) *rawSource {
	buf := make([]byte, binary.Size(inputEvent{}))
	return &rawSource{
		name:   name,
		rc:     rc,
		buf:    buf,
		reader: bytes.NewReader(buf), // Reusable reader, reset on each event
	}
}

// openRawSource opens a /dev/input/eventN node for raw reads.
func openRawSource(device string) (eventSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, openError(device, err)
	}
	return newRawSource(device, f), nil
}

func (s *rawSource) ReadEvent() (inputEvent, error) {
	for {
		if _, err := io.ReadFull(s.rc, s.buf); err != nil {
			return inputEvent{}, err
		}

		s.reader.Reset(s.buf)
		var ev inputEvent
		if err := binary.Read(s.reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		return ev, nil
	}
}

func (s *rawSource) Name() string { return s.name }

func (s *rawSource) Close() error { return s.rc.Close() }

// openError wraps a device open failure, adding a hint for the common
// permission problem.
func openError(device string, err error) error {
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("open %s: %w (run as root or add user to the 'input' group)", device, err)
	}
	return fmt.Errorf("open %s: %w", device, err)
}
