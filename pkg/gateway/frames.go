package gateway

import (
	"encoding/json"
)

// Protocol version range this client negotiates during the handshake.
const (
	MinProtocolVersion = 3
	MaxProtocolVersion = 3
)

// Frame type discriminators on the wire.
const (
	frameTypeRequest      = "req"
	frameTypeResponse     = "res"
	frameTypeEvent        = "event"
	frameTypeSubscribe    = "subscribe"
	frameTypeUnsubscribe  = "unsubscribe"
	frameTypeSubscribed   = "subscribed"
	frameTypeUnsubscribed = "unsubscribed"
	frameTypePing         = "ping"
	frameTypePong         = "pong"
)

// Event channels multiplexed over one subscription.
const (
	eventChannelChat  = "chat"
	eventChannelAgent = "agent"
)

// Frame is a single message on the gateway wire. One struct covers every
// frame type; unset fields are omitted when encoding.
type Frame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	OK         *bool           `json:"ok,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      *ErrorBody      `json:"error,omitempty"`
	Event      string          `json:"event,omitempty"`
	Seq        int64           `json:"seq,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
}

// ErrorBody is the error shape carried by a rejected response frame.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ConnectParams is the handshake request sent as the first frame on every
// connection, ephemeral or persistent.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Auth        *AuthParams `json:"auth,omitempty"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
}

// ClientInfo identifies the connecting client to the gateway.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId"`
}

// AuthParams carries the shared credential. Token wins when both are set.
type AuthParams struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

func (f *Frame) ok() bool {
	return f.OK != nil && *f.OK
}
