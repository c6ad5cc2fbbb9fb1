package envelope

import "encoding/json"

// RoutingTag is the `type` field on a layer payload. It determines which
// consumer-side handler receives the event and must be preserved verbatim
// for interop (§6).
type RoutingTag string

const (
	RouteWebsocketSend RoutingTag = "websocket.send"
	RouteErrorSend     RoutingTag = "ws.error.send"
	RouteInternalMsg   RoutingTag = "internal.msg"
)

// Transport turns a packed Envelope into the arbitrary map the channel
// layer adapter (component E) fans out. Two shapes are supported and are
// selected per envelope kind the way §4.1 describes.
type Transport interface {
	Wrap(env *Envelope, route RoutingTag) (map[string]any, error)
}

// TextTransport serializes the envelope to a JSON string carried inside
// text_data, alongside the routing fields a session's WritePump needs
// without re-parsing the payload.
type TextTransport struct{}

func (TextTransport) Wrap(env *Envelope, route RoutingTag) (map[string]any, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":      string(route),
		"text_data": string(data),
		"i":         env.I,
		"t":         env.T,
		"s":         string(env.S),
	}, nil
}

// DictTransport keeps the envelope fields as a map rather than a JSON
// string, for in-process layer backends (e.g. the in-memory layer) that
// never need to re-serialize.
type DictTransport struct{}

func (DictTransport) Wrap(env *Envelope, route RoutingTag) (map[string]any, error) {
	m := map[string]any{
		"type": string(route),
		"t":    env.T,
		"i":    env.I,
		"s":    string(env.S),
	}
	if len(env.P) > 0 {
		var p any
		if err := json.Unmarshal(env.P, &p); err != nil {
			return nil, err
		}
		m["p"] = p
	}
	return m, nil
}
