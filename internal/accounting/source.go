// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the category of a hardware power-measurement channel
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCPU
	KindGPU
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "CPU"
	case KindGPU:
		return "GPU"
	default:
		return "UNKNOWN"
	}
}

// ParseKind parses CPU or GPU, ignoring case
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CPU":
		return KindCPU, nil
	case "GPU":
		return KindGPU, nil
	default:
		return KindUnknown, fmt.Errorf("unknown source kind %q", s)
	}
}

// Source identifies one power-measurement channel: a CPU socket or a GPU
// device. Sources are comparable and are used as map keys throughout.
type Source struct {
	Kind  Kind
	Index int
}

// CPU returns the source of the given CPU socket
func CPU(socket int) Source {
	return Source{Kind: KindCPU, Index: socket}
}

// GPU returns the source of the given GPU device index
func GPU(index int) Source {
	return Source{Kind: KindGPU, Index: index}
}

func (s Source) String() string {
	return s.Kind.String() + ":" + strconv.Itoa(s.Index)
}

// IsValid reports whether the source has a known kind and a non-negative index
func (s Source) IsValid() bool {
	return s.Kind != KindUnknown && s.Index >= 0
}

// Less orders sources by kind, then by index
func (s Source) Less(o Source) bool {
	if s.Kind != o.Kind {
		return s.Kind < o.Kind
	}
	return s.Index < o.Index
}

// ParseSource parses a source key such as "GPU:0" or "cpu:1". Device strings
// that end in a KIND:N element, e.g. "/job:localhost/replica:0/task:0/device:GPU:0",
// are accepted as well.
func ParseSource(s string) (Source, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return Source{}, fmt.Errorf("invalid source %q: expected KIND:INDEX", s)
	}

	kindPart := parts[len(parts)-2]
	if i := strings.LastIndexAny(kindPart, "/"); i >= 0 {
		kindPart = kindPart[i+1:]
	}
	kind, err := ParseKind(kindPart)
	if err != nil {
		return Source{}, fmt.Errorf("invalid source %q: %w", s, err)
	}

	index, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || index < 0 {
		return Source{}, fmt.Errorf("invalid source %q: bad index", s)
	}
	return Source{Kind: kind, Index: index}, nil
}

// MarshalText implements encoding.TextMarshaler
func (s Source) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid source %v", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Timestamp is a point in time in microseconds. Flow traces and power samples
// must use the same clock.
type Timestamp int64

// TimestampOf converts t to a Timestamp
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time returns t as a wall clock time
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

// Sub returns the duration t-u
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t-u) * time.Microsecond
}

// microsPerSecond converts watt-microseconds into joules
const microsPerSecond = 1e6
