package wsrelay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Flags is the message.info bitmask of an Envelope.
type Flags int

const (
	// NoBroadcast suppresses forwarding entirely.
	NoBroadcast Flags = 1 << iota
	// SendBack also delivers the routed message to its sender.
	SendBack
	// ChangeUsername stores user.name as the sender's name.
	ChangeUsername
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// Envelope is the JSON document carried in a frame payload:
//
//	{"user":{"name":"bob"},"message":{"text":"hi","text_len":2,"info":0}}
//
// Fields it does not know, at any level, survive a decode and re-encode.
type Envelope struct {
	User    *User `json:"user"`
	Message *Body `json:"message"`
	extra   map[string]json.RawMessage
}

type User struct {
	Name  string `json:"name"`
	extra map[string]json.RawMessage
}

type Body struct {
	Text    string `json:"text"`
	TextLen int    `json:"text_len"`
	Info    Flags  `json:"info"`
	extra   map[string]json.RawMessage
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := unknownFields(data, "user", "message")
	if err != nil {
		return err
	}
	*e = Envelope(p)
	e.extra = extra
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	return withFields(plain(e), e.extra)
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name")
	if err != nil {
		return err
	}
	*u = User(p)
	u.extra = extra
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return withFields(plain(u), u.extra)
}

func (b *Body) UnmarshalJSON(data []byte) error {
	type plain Body
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := unknownFields(data, "text", "text_len", "info")
	if err != nil {
		return err
	}
	*b = Body(p)
	b.extra = extra
	return nil
}

func (b Body) MarshalJSON() ([]byte, error) {
	type plain Body
	return withFields(plain(b), b.extra)
}

// unknownFields returns the members of the object in data whose keys match
// none of known. Keys are compared the way encoding/json matches them.
func unknownFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for key := range all {
		for _, k := range known {
			if strings.EqualFold(key, k) {
				delete(all, key)
				break
			}
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// withFields encodes v and adds extra members it does not already carry.
func withFields(v any, extra map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// NewEnvelope builds an envelope whose text_len is the byte length of text.
func NewEnvelope(name, text string, flags Flags) *Envelope {
	return &Envelope{
		User:    &User{Name: name},
		Message: &Body{Text: text, TextLen: len(text), Info: flags},
	}
}

// ParseEnvelope decodes payload. Invalid JSON and documents without a user or
// message object are reported as ErrMalformedEnvelope.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.User == nil {
		return nil, fmt.Errorf("%w: missing user", ErrMalformedEnvelope)
	}
	if e.Message == nil {
		return nil, fmt.Errorf("%w: missing message", ErrMalformedEnvelope)
	}
	return &e, nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
