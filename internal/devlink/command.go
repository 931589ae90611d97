package devlink

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/framepilot/framepilot/internal/errors"
)

// Command is one instruction for the device: payload bytes, the predicate
// its acknowledgement must satisfy, and the per-attempt ack deadline.
type Command struct {
	ID        string
	Name      string
	Payload   []byte
	ExpectAck func(line []byte) bool
	Timeout   time.Duration
}

// AckOK is the firmware's standard acknowledgement line.
func AckOK(line []byte) bool {
	return bytes.Equal(bytes.TrimSpace(line), []byte("ok"))
}

func newCommand(name string, payload string, timeout time.Duration) Command {
	return Command{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   []byte(payload + "\n"),
		ExpectAck: AckOK,
		Timeout:   timeout,
	}
}

func keyCommand(verb, key string, timeout time.Duration) (Command, error) {
	code, ok := KeyCode(key)
	if !ok {
		return Command{}, apperrors.Newf(apperrors.CodeDispatchFailed, "unknown key %q", key)
	}
	return newCommand(
		fmt.Sprintf("%s %s", verb, key),
		fmt.Sprintf("%s,%d", verb, code),
		timeout,
	), nil
}

// NewKeyDown builds a key-hold command.
func NewKeyDown(key string, timeout time.Duration) (Command, error) {
	return keyCommand("keyDown", key, timeout)
}

// NewKeyUp builds a key-release command.
func NewKeyUp(key string, timeout time.Duration) (Command, error) {
	return keyCommand("keyUp", key, timeout)
}

// NewPress builds a press-and-release command.
func NewPress(key string, timeout time.Duration) (Command, error) {
	return keyCommand("press", key, timeout)
}

// NewWrite builds a command that types out a phrase.
func NewWrite(text string, timeout time.Duration) (Command, error) {
	if text == "" {
		return Command{}, apperrors.New(apperrors.CodeDispatchFailed, "empty write text")
	}
	return newCommand(fmt.Sprintf("write %q", text), "write,"+text, timeout), nil
}

// NewRaw builds a command from pre-encoded payload bytes with the standard
// acknowledgement. Used by the host binding for opaque commands.
func NewRaw(name string, payload []byte, timeout time.Duration) Command {
	return Command{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		ExpectAck: AckOK,
		Timeout:   timeout,
	}
}
