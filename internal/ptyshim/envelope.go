package ptyshim

import (
	"encoding/json"

	"github.com/qtermio/qterm/pkg/wire"
)

func decodePayload(env wire.Envelope, out any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, out)
}
