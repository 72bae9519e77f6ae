package socket

import (
	"encoding/json"
	"fmt"
)

// Ticket is the credential triple attached to every outbound frame.
type Ticket struct {
	Principal string   `json:"principal" yaml:"principal"`
	Ticket    string   `json:"ticket" yaml:"ticket"`
	Roles     []string `json:"roles" yaml:"roles"`
}

func (t *Ticket) clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Roles = append([]string(nil), t.Roles...)
	return &c
}

// encodeFrame flattens msg into one JSON object and stamps the auth fields
// last so they win over caller keys with the same name. A nil ticket yields
// empty strings for all three fields.
func encodeFrame(msg Message, ticket *Ticket) ([]byte, error) {
	if msg.Op == "" {
		return nil, ErrMissingOp
	}

	frame := make(map[string]any, len(msg.Data)+4)
	for k, v := range msg.Data {
		frame[k] = v
	}
	frame["op"] = string(msg.Op)

	if ticket != nil {
		roles := ticket.Roles
		if roles == nil {
			roles = []string{}
		}
		frame["principal"] = ticket.Principal
		frame["ticket"] = ticket.Ticket
		frame["roles"] = roles
	} else {
		frame["principal"] = ""
		frame["ticket"] = ""
		frame["roles"] = ""
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Op, err)
	}
	return data, nil
}
