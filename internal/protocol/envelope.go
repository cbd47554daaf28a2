// Package protocol defines the envelope format exchanged between peers.
package protocol

import "encoding/json"

// Body carries an opaque application payload.
type Body struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope is the only unit ever placed on the wire. An envelope without a
// Response is a fresh request from Sender; with a Response it is the reply
// to a request Sender issued earlier.
type Envelope struct {
	Sender    string `json:"sender"`
	MessageID uint64 `json:"messageId"`
	Request   *Body  `json:"request"`
	Response  *Body  `json:"response,omitempty"`
}

// IsReply reports whether the envelope carries a response.
func (e *Envelope) IsReply() bool {
	return e.Response != nil
}

// WithResponse returns a copy of e with the response field set to data.
// The request body is shared with e.
func (e *Envelope) WithResponse(data json.RawMessage) *Envelope {
	reply := *e
	reply.Response = &Body{Data: data}
	return &reply
}
