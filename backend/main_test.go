package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/abdelmounim-dev/scanhub/broker"
)

func TestTally(t *testing.T) {
	tl := newTally()

	assert.True(t, tl.apply(broker.Message{Type: "cache_update", Data: json.RawMessage(`{"version":3}`)}))
	assert.True(t, tl.apply(broker.Message{Type: "student_record", Data: json.RawMessage(`{"studentId":"S1","registrationStatus":"registered"}`)}))
	assert.True(t, tl.apply(broker.Message{Type: "student_record", Data: json.RawMessage(`{"studentId":"S2","registrationStatus":"not_registered"}`)}))
	assert.True(t, tl.apply(broker.Message{Type: "student_record", Data: json.RawMessage(`{"studentId":"S2","registrationStatus":"registered"}`)}))
	assert.False(t, tl.apply(broker.Message{Type: "student_record", Data: json.RawMessage(`"oops"`)}))

	assert.Equal(t, 4, tl.events["student_record"])
	assert.Equal(t, 1, tl.events["cache_update"])
	assert.Len(t, tl.students, 2)
	assert.Equal(t, 2, tl.registered())
}
