package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/foreman/internal/events"
)

func TestFormatEvent(t *testing.T) {
	color.NoColor = true
	ts := time.Date(2026, 3, 1, 9, 30, 5, 0, time.UTC)

	got := formatEvent(events.Event{
		Type:      events.TaskFailed,
		Timestamp: ts,
		TaskID:    "t1",
		WorkerID:  "ada",
		Error:     "exit status 2",
	})
	assert.Equal(t, `09:30:05 task-failed            task=t1 worker=ada error="exit status 2"`, got)
}

func TestPrintEvents_SkipsOutputUnlessVerbose(t *testing.T) {
	color.NoColor = true
	feed := func() <-chan events.Event {
		ch := make(chan events.Event, 2)
		ch <- events.Event{Type: events.ProcessOutput, ProcessID: "p1", Message: "hello"}
		ch <- events.Event{Type: events.ProcessStopped, ProcessID: "p1"}
		close(ch)
		return ch
	}

	var quiet, verbose bytes.Buffer
	printEvents(&quiet, feed(), false)
	printEvents(&verbose, feed(), true)

	assert.NotContains(t, quiet.String(), "hello")
	assert.Contains(t, quiet.String(), "process_stopped")
	assert.Contains(t, verbose.String(), "hello")
}
