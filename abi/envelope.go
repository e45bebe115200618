// Package abi implements the host capability surface exposed to sandboxed
// plugins (SPEC_FULL.md §4.4): a fixed, name-stable set of host functions
// wrapping identity, storage, and the message bus, each returning a JSON
// envelope rather than raising into the sandbox.
package abi

import "encoding/json"

// Envelope is the wire contract every host capability returns to a
// plugin, except log_message and the timestamp reads.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func ok(data any) string {
	raw, err := json.Marshal(data)
	if err != nil {
		return fail(err.Error())
	}
	env := Envelope{Success: true, Data: raw}
	out, _ := json.Marshal(env)
	return string(out)
}

func okEmpty() string {
	env := Envelope{Success: true}
	out, _ := json.Marshal(env)
	return string(out)
}

func fail(msg string) string {
	env := Envelope{Success: false, Error: msg}
	out, _ := json.Marshal(env)
	return string(out)
}
