package models

import "time"

// Event is one analytics record: a name and a flat string parameter map.
type Event struct {
	Name      string            `json:"name" msgpack:"name"`
	Params    map[string]string `json:"params,omitempty" msgpack:"params,omitempty"`
	ClientID  string            `json:"clientId,omitempty" msgpack:"clientId,omitempty"`
	Timestamp time.Time         `json:"timestamp" msgpack:"timestamp"`
}

// EventCount is the number of recorded events with a given name.
type EventCount struct {
	Name  string `json:"name" msgpack:"name"`
	Count int64  `json:"count" msgpack:"count"`
}
