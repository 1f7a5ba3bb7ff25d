// Package protocol defines the JSON messages exchanged with browser clients.
//
// Every frame in both directions is {"event": string, "data": any}.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/bytedance/sonic"
)

// Event names a message.
type Event string

// Inbound events.
const (
	EventConnect            Event = "connect"
	EventRunTests           Event = "run-tests"
	EventResetProject       Event = "reset-project"
	EventResetLesson        Event = "reset-lesson"
	EventGoToNextLesson     Event = "go-to-next-lesson"
	EventGoToPreviousLesson Event = "go-to-previous-lesson"
	EventSelectProject      Event = "select-project"
)

// Outbound events.
const (
	EventResponse          Event = "RESPONSE"
	EventUpdateProject     Event = "update-project"
	EventUpdateDescription Event = "update-description"
	EventUpdateHints       Event = "update-hints"
	EventUpdateConsole     Event = "update-console"
	EventUpdateTests       Event = "update-tests"
	EventUpdateError       Event = "update-error"
)

// Greeting is the data of the connect acknowledgement.
const Greeting = "Connected to lessond"

var (
	// ErrUnknownEvent is returned by Decode for event names it does not
	// recognise. Callers ignore such frames.
	ErrUnknownEvent = errors.New("protocol: unknown event")
	// ErrMalformed is returned for frames that are not valid messages.
	ErrMalformed = errors.New("protocol: malformed message")
)

// Message is one wire frame.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

// Encode builds an outbound frame.
func Encode(event Event, data any) ([]byte, error) {
	b, err := sonic.ConfigStd.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return b, nil
}

// Client is the server's handle on one connected browser.
type Client interface {
	ID() string
	Send(ctx context.Context, event Event, data any) error
}

// Command is a decoded inbound message. The set of implementations is closed.
type Command interface {
	Event() Event
	isCommand()
}

type (
	// Connect is the client's hello.
	Connect struct{}
	// RunTests runs the current lesson's tests now.
	RunTests struct{}
	// ResetProject is reserved and does nothing yet.
	ResetProject struct{}
	// ResetLesson is reserved and does nothing yet.
	ResetLesson struct{}
	// GoToNextLesson advances the current project by one lesson.
	GoToNextLesson struct{}
	// GoToPreviousLesson moves the current project back one lesson.
	GoToPreviousLesson struct{}
	// SelectProject switches the active project.
	SelectProject struct {
		ID domain.ProjectID `json:"id"`
	}
)

func (Connect) Event() Event            { return EventConnect }
func (RunTests) Event() Event           { return EventRunTests }
func (ResetProject) Event() Event       { return EventResetProject }
func (ResetLesson) Event() Event        { return EventResetLesson }
func (GoToNextLesson) Event() Event     { return EventGoToNextLesson }
func (GoToPreviousLesson) Event() Event { return EventGoToPreviousLesson }
func (SelectProject) Event() Event      { return EventSelectProject }

func (Connect) isCommand()            {}
func (RunTests) isCommand()           {}
func (ResetProject) isCommand()       {}
func (ResetLesson) isCommand()        {}
func (GoToNextLesson) isCommand()     {}
func (GoToPreviousLesson) isCommand() {}
func (SelectProject) isCommand()      {}

// Decode parses an inbound frame into a Command. The returned Message is
// populated whenever the frame itself was well formed, even if its event
// is unknown.
func Decode(frame []byte) (Command, Message, error) {
	var msg Message
	if err := sonic.ConfigStd.Unmarshal(frame, &msg); err != nil {
		return nil, msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msg.Event {
	case EventConnect:
		return Connect{}, msg, nil
	case EventRunTests:
		return RunTests{}, msg, nil
	case EventResetProject:
		return ResetProject{}, msg, nil
	case EventResetLesson:
		return ResetLesson{}, msg, nil
	case EventGoToNextLesson:
		return GoToNextLesson{}, msg, nil
	case EventGoToPreviousLesson:
		return GoToPreviousLesson{}, msg, nil
	case EventSelectProject:
		var cmd SelectProject
		if len(msg.Data) > 0 {
			if err := sonic.ConfigStd.Unmarshal(msg.Data, &cmd); err != nil {
				return nil, msg, fmt.Errorf("%w: select-project data: %v", ErrMalformed, err)
			}
		}
		return cmd, msg, nil
	default:
		return nil, msg, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}
}

// ResponseData acknowledges a completed command.
type ResponseData struct {
	Event Event `json:"event"`
}

// ProjectData is sent whenever the displayed project or lesson changes.
// Project is nil when nothing is selected.
type ProjectData struct {
	Project *domain.Project `json:"project"`
	Lesson  int             `json:"lesson"`
}

// DescriptionData carries the current lesson's instructions.
type DescriptionData struct {
	Lesson      int    `json:"lesson"`
	Description string `json:"description"`
}

// ErrorKind classifies update-error events.
type ErrorKind string

const (
	ErrorLaunch       ErrorKind = "launch"
	ErrorNoSuchLesson ErrorKind = "no-such-lesson"
	ErrorInternal     ErrorKind = "internal"
	ErrorRejected     ErrorKind = "rejected"
)

// ErrorData reports a system-level failure distinct from failing tests.
type ErrorData struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
