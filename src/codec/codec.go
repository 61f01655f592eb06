// Package codec parses, validates, and serializes the wire Message.
package codec

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	core "github.com/wsrelay/core"
)

// Message is the wire unit exchanged over the socket.
type Message struct {
	Version       string         `json:"-"`
	Event         string         `json:"-"`
	Payload       map[string]any `json:"-"`
	CorrelationID string         `json:"-"`
	Timestamp     int64          `json:"-"` // ms since epoch
}

// wireMessage is the compact on-the-wire shape (short keys).
type wireMessage struct {
	V string         `json:"v,omitempty"`
	E string         `json:"e"`
	P map[string]any `json:"p,omitempty"`
	C string         `json:"c,omitempty"`
	T int64          `json:"t"`
}

// Codec holds version configuration and parses/serializes Messages.
type Codec struct {
	CurrentVersion    string
	SupportedVersions map[string]bool
	MinimumVersion    string // empty disables the floor check
}

// New builds a Codec from the current and supported version strings.
func New(current string, supported []string, minimum string) *Codec {
	set := make(map[string]bool, len(supported))
	for _, v := range supported {
		set[v] = true
	}
	set[current] = true
	return &Codec{CurrentVersion: current, SupportedVersions: set, MinimumVersion: minimum}
}

// Parse validates a UTF-8 text frame into a Message.
func Parse(c *Codec, raw []byte) (Message, *core.Error) {
	var wm wireMessage
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	// Decode into a generic map first to tolerate-and-drop unknown
	// fields. Invalid JSON and a root that is not an object are reported
	// with the same malformed-message error.
	var raw2 map[string]json.RawMessage
	if err := dec.Decode(&raw2); err != nil {
		return Message{}, core.NewError(core.KindProtocol, core.CodeInvalidProtocol, "malformed message: not a JSON object")
	}

	if ev, ok := raw2["e"]; ok {
		if err := json.Unmarshal(ev, &wm.E); err != nil {
			return Message{}, core.NewError(core.KindProtocol, core.CodeInvalidProtocol, "event name must be a string")
		}
	}
	if wm.E == "" {
		return Message{}, core.NewError(core.KindProtocol, core.CodeInvalidProtocol, "event name is missing or empty")
	}

	if pv, ok := raw2["p"]; ok {
		var p map[string]any
		if err := json.Unmarshal(pv, &p); err != nil {
			return Message{}, core.NewError(core.KindProtocol, core.CodeInvalidProtocol, "payload must be an object")
		}
		wm.P = p
	}

	if vv, ok := raw2["v"]; ok {
		if err := json.Unmarshal(vv, &wm.V); err != nil {
			return Message{}, core.NewError(core.KindProtocol, core.CodeInvalidProtocol, "protocol version must be a string")
		}
	}
	if wm.V == "" {
		wm.V = c.CurrentVersion
	} else if !c.SupportedVersions[wm.V] {
		return Message{}, core.NewError(core.KindProtocol, core.CodeUnsupportedVersion, "unsupported protocol version: "+wm.V)
	} else if c.MinimumVersion != "" && compareVersions(wm.V, c.MinimumVersion) < 0 {
		return Message{}, core.NewError(core.KindProtocol, core.CodeUnsupportedVersion, "protocol version below minimum: "+wm.V)
	}

	if cv, ok := raw2["c"]; ok {
		_ = json.Unmarshal(cv, &wm.C)
	}
	if tv, ok := raw2["t"]; ok {
		_ = json.Unmarshal(tv, &wm.T)
	}

	payload := wm.P
	if payload == nil {
		payload = map[string]any{}
	}

	return Message{
		Version:       wm.V,
		Event:         wm.E,
		Payload:       payload,
		CorrelationID: wm.C,
		Timestamp:     wm.T,
	}, nil
}

// Serialize emits the compact wire form of m. Timestamp is always
// (re-)stamped with the current time if unset.
func Serialize(m Message) ([]byte, error) {
	ts := m.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	wm := wireMessage{
		V: m.Version,
		E: m.Event,
		P: m.Payload,
		C: m.CorrelationID,
		T: ts,
	}
	return json.Marshal(wm)
}

// compareVersions does lexicographic comparison on dot-separated integer
// components, missing components treated as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}
