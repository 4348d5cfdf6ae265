package main

import "encoding/json"

// operationCommand is the JSON payload carried inside a transport frame
// between `modulo operations` and a running unit. It rides over the
// size-probe/ACK/payload transport (spec §4.5), not the in-process bus,
// since operations addresses a unit by network location rather than by
// channel subscription.
type operationCommand struct {
	Command string `json:"command"`
	Message string `json:"message,omitempty"`
}

func encodeCommand(cmd operationCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

func decodeCommand(payload []byte) (operationCommand, error) {
	var cmd operationCommand
	err := json.Unmarshal(payload, &cmd)
	return cmd, err
}
