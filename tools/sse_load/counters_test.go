package main

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsume(t *testing.T) {
	stream := "id: 1\nevent: snapshot\ndata: {}\n\n" +
		": ping\n\n" +
		"id: 2\nevent: outcome\ndata: {}\n\n" +
		"id: 3\nevent: snapshot\ndata: {}\n\n"

	c := newCounters()
	err := c.consume(strings.NewReader(stream))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.Equal(t, map[string]int64{"snapshot": 2, "outcome": 1}, c.byType())
	assert.Contains(t, c.summary(time.Second), "events=3")
	assert.Contains(t, c.summary(time.Second), "outcome=1 snapshot=2")
}

func TestWithLastEventID(t *testing.T) {
	u, err := withLastEventID("http://localhost:8080/events/stream", 42)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/events/stream?last_event_id=42", u)

	u, err = withLastEventID("http://localhost:8080/events/stream", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/events/stream", u)
}
