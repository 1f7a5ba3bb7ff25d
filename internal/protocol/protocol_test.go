package protocol

import (
	"testing"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownCommands(t *testing.T) {
	t.Parallel()

	cases := map[string]Command{
		`{"event":"connect"}`:                     Connect{},
		`{"event":"run-tests","data":{}}`:         RunTests{},
		`{"event":"reset-project"}`:               ResetProject{},
		`{"event":"reset-lesson"}`:                ResetLesson{},
		`{"event":"go-to-next-lesson"}`:           GoToNextLesson{},
		`{"event":"go-to-previous-lesson"}`:       GoToPreviousLesson{},
		`{"event":"select-project","data":{"id":3}}`:   SelectProject{ID: "3"},
		`{"event":"select-project","data":{"id":"X"}}`: SelectProject{ID: "X"},
	}
	for frame, want := range cases {
		got, msg, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		assert.Equal(t, want, got, frame)
		assert.Equal(t, want.Event(), msg.Event)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	t.Parallel()

	cmd, msg, err := Decode([]byte(`{"event":"open-terminal","data":{}}`))
	assert.Nil(t, cmd)
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Equal(t, Event("open-terminal"), msg.Event)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	_, _, err := Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = Decode([]byte(`{"event":"select-project","data":[1]}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	b, err := Encode(EventResponse, ResponseData{Event: EventSelectProject})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"RESPONSE","data":{"event":"select-project"}}`, string(b))

	b, err = Encode(EventUpdateProject, ProjectData{Lesson: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"update-project","data":{"project":null,"lesson":0}}`, string(b))

	b, err = Encode(EventUpdateTests, []domain.TestOutcome{{TestName: "adds", Passed: false, Message: "boom"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"update-tests","data":[{"testName":"adds","passed":false,"message":"boom"}]}`, string(b))
}
