package ilp

import (
	"encoding/json"
	"errors"
)

var ErrMalformedEnvelope = errors.New("malformed packet envelope")

// envelope is the JSON framing used on the HTTP and plugin transports.
type envelope struct {
	Prepare *Prepare `json:"prepare,omitempty"`
	Fulfill *Fulfill `json:"fulfill,omitempty"`
	Reject  *Reject  `json:"reject,omitempty"`
}

func MarshalPrepare(p *Prepare) ([]byte, error) {
	return json.Marshal(envelope{Prepare: p})
}

func UnmarshalPrepare(b []byte) (*Prepare, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if env.Prepare == nil {
		return nil, ErrMalformedEnvelope
	}
	return env.Prepare, nil
}

func MarshalReply(r Reply) ([]byte, error) {
	switch v := r.(type) {
	case *Fulfill:
		return json.Marshal(envelope{Fulfill: v})
	case *Reject:
		return json.Marshal(envelope{Reject: v})
	default:
		return nil, ErrMalformedEnvelope
	}
}

func UnmarshalReply(b []byte) (Reply, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch {
	case env.Fulfill != nil && env.Reject == nil:
		return env.Fulfill, nil
	case env.Reject != nil && env.Fulfill == nil:
		return env.Reject, nil
	default:
		return nil, ErrMalformedEnvelope
	}
}
