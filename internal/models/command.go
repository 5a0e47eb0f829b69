// Package models defines the shared types exchanged between hdriver
// components: instrument commands, control-server replies and the
// observation event log.
package models

import (
	"strings"
)

// Status is the two-valued return code used by the NGC control software
// and mirrored by every hdriver control endpoint.
type Status string

const (
	StatusOK  Status = "OK"
	StatusNOK Status = "NOK"
)

// Command is one instruction for the instrument control system: a command
// name plus optional ordered string parameters.
type Command struct {
	Name   string   `json:"command"`
	Params []string `json:"params,omitempty"`
}

// String renders the command the way it would be typed at the NGC console.
func (c Command) String() string {
	if len(c.Params) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Params, " ")
}

// Reply is the message/status pair returned by the control system for a
// single dispatched command, and the envelope hdriver's own control plane
// answers with. The field names follow the NGC message buffer convention.
type Reply struct {
	MessageBuffer string `json:"MESSAGEBUFFER"`
	RetCode       Status `json:"RETCODE"`
}

// OK reports whether the reply carries a success return code.
func (r *Reply) OK() bool {
	return r != nil && r.RetCode == StatusOK
}
