package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// SessionID adds a session ID field.
func SessionID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("session_id", id)
	}
}

// Tool adds a tool identifier field.
func Tool(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tool", id)
	}
}

// Phase adds a section phase field.
func Phase(p string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("phase", p)
	}
}

// FileSize adds a byte size field.
func FileSize(n int64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("file_size", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// Event adds an analytics event name field.
func Event(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event", name)
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}
