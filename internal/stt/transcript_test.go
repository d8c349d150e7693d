package stt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptMerge(t *testing.T) {
	var ts TranscriptState

	ts.Apply(Result{Text: "i went", SegmentFinal: false})
	assert.Equal(t, "i went", ts.Current())

	ts.Apply(Result{Text: "i went to the", SegmentFinal: false})
	assert.Equal(t, "i went to the", ts.Current())

	ts.Apply(Result{Text: "I went to the lake.", SegmentFinal: true})
	assert.Equal(t, "I went to the lake.", ts.Current())
	assert.Equal(t, "I went to the lake.", ts.FinalText())

	ts.Apply(Result{Text: "we swam", SegmentFinal: false})
	assert.Equal(t, "I went to the lake. we swam", ts.Current())

	ts.Apply(Result{Text: "We swam all day.", SegmentFinal: true})
	assert.Equal(t, "I went to the lake. We swam all day.", ts.FinalText())
}

func TestFinalizedTextMonotonic(t *testing.T) {
	var ts TranscriptState

	msgs := []Result{
		{Text: "a", SegmentFinal: false},
		{Text: "abc", SegmentFinal: false},
		{Text: "abc def", SegmentFinal: true},
		{Text: "", SegmentFinal: true},
		{Text: "g", SegmentFinal: false},
		{Text: "", SegmentFinal: false},
		{Text: "ghi", SegmentFinal: true},
	}

	prev := 0
	for _, m := range msgs {
		ts.Apply(m)
		cur := ts.FinalizedLen()
		assert.GreaterOrEqual(t, cur, prev, "finalized text must be non-decreasing")
		prev = cur
	}
}

func TestFinalTextFallsBackToInterim(t *testing.T) {
	var ts TranscriptState

	ts.Apply(Result{Text: "nothing settled yet", SegmentFinal: false})
	assert.Equal(t, "nothing settled yet", ts.FinalText())
}

func TestFinalTextEmpty(t *testing.T) {
	var ts TranscriptState
	assert.Equal(t, "", ts.FinalText())
	assert.Equal(t, "", ts.Current())
}
