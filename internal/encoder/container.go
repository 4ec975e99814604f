package encoder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrGroupNotFound is returned when the requested group is absent from a container.
	ErrGroupNotFound = errors.New("group not found")
	// ErrChannelNotFound is returned when the edge-count channel is absent from a group.
	ErrChannelNotFound = errors.New("channel not found")
)

// Property keys understood on channels, groups and containers. The wf_*
// spellings are the waveform names written by the acquisition software.
var (
	StartTimeKeys = []string{"start_time", "wf_start_time"}
	IntervalKeys  = []string{"sample_interval_seconds", "wf_increment"}
)

// Container is a waveform recording made of named groups of channels.
type Container interface {
	Group(name string) (*Group, bool)
	Properties() Properties
}

// Properties is a key/value property map as stored in the container.
type Properties map[string]interface{}

// Channel is one fully materialised sample array with its properties.
type Channel struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	Data       []float64  `json:"data"`
}

// Group is a named collection of channels.
type Group struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
	Channels   []*Channel `json:"channels"`
}

// Channel returns the named channel.
func (g *Group) Channel(name string) (*Channel, bool) {
	for _, c := range g.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// File is an in-memory Container.
type File struct {
	Props  Properties `json:"properties,omitempty"`
	Groups []*Group   `json:"groups"`
}

// Group returns the group with an exactly matching name.
func (f *File) Group(name string) (*Group, bool) {
	for _, g := range f.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Properties returns the container-level properties.
func (f *File) Properties() Properties {
	return f.Props
}

// Float returns the first key holding a positive number.
func (p Properties) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if f > 0 {
			return f, true
		}
	}
	return 0, false
}

// Time returns the first key holding a parseable timestamp, normalised to
// a timezone-naive wall clock carried in UTC.
func (p Properties) Time(keys ...string) (time.Time, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case time.Time:
			return naive(x), true
		case string:
			if t, err := ParseTimestamp(x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601-like timestamp. Any zone offset is
// dropped, keeping the wall-clock reading.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return naive(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// lookupMetadata resolves the declared start and interval for a channel,
// falling back to the group and then the container.
func lookupMetadata(c Container, g *Group, ch *Channel) (start time.Time, interval float64) {
	scopes := []Properties{ch.Properties, g.Properties}
	if c != nil {
		scopes = append(scopes, c.Properties())
	}
	for _, p := range scopes {
		if start.IsZero() {
			if t, ok := p.Time(StartTimeKeys...); ok {
				start = t
			}
		}
		if interval == 0 {
			if f, ok := p.Float(IntervalKeys...); ok {
				interval = f
			}
		}
	}
	return start, interval
}
