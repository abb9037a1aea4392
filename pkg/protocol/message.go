// Package protocol defines the two message shapes exchanged over the serial
// link and their canonical JSON encoding, in plaintext and encrypted form.
//
// A Command travels host to device, a Response travels device to host. When a
// channel is configured as encrypted, the canonical JSON text of the message
// becomes the plaintext input to crypto.System and the frame carries the
// resulting envelope instead.
package protocol

import "time"

// StatusError is the Response status used for every failure path on the
// device: unknown actions, malformed input, handler errors.
const StatusError = "error"

// Command is a request sent from the host to the device. Action selects the
// device handler; Data is an optional free-form argument.
type Command struct {
	Action string  `json:"action"`
	Data   *string `json:"data"`
}

// Response is the device's answer to a Command, or an unsolicited message
// such as the boot banner. ResponseTo echoes the action of the Command that
// triggered it and is nil for unsolicited messages. The protocol has no
// request IDs beyond this echo, so concurrent commands with the same action
// cannot be told apart by their responses.
type Response struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Timestamp  int64   `json:"timestamp"`
	ResponseTo *string `json:"response_to"`
}

// NewResponse builds a Response stamped with the current unix time.
func NewResponse(status, message string, responseTo *string) Response {
	return Response{
		Status:     status,
		Message:    message,
		Timestamp:  time.Now().Unix(),
		ResponseTo: responseTo,
	}
}

// ErrorResponse builds an error Response answering the given action.
func ErrorResponse(message string, responseTo *string) Response {
	return NewResponse(StatusError, message, responseTo)
}

// String returns a pointer to s, for the optional Data/ResponseTo fields.
func String(s string) *string { return &s }
