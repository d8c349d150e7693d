package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendOnlyOrdering(t *testing.T) {
	l := New()

	for i := 0; i < 12; i++ {
		before := l.Len()
		l.Append(Exchange{
			Question:    fmt.Sprintf("q%d", i),
			Response:    fmt.Sprintf("r%d", i),
			ConfirmedAt: time.Now().UTC(),
		})
		require.Equal(t, before+1, l.Len(), "length must only increase")

		snap := l.Snapshot()
		for j, e := range snap {
			assert.Equal(t, fmt.Sprintf("q%d", j), e.Question, "previously appended exchanges must not reorder")
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New()
	l.Append(Exchange{Question: "q", Response: "r"})

	snap := l.Snapshot()
	snap[0].Response = "mutated"

	assert.Equal(t, "r", l.Snapshot()[0].Response)
}

func TestSummaryConcatenatesInOrder(t *testing.T) {
	l := New()
	l.Append(Exchange{Question: "q1", Response: "I went to the lake."})
	l.Append(Exchange{Question: "q2", Response: "  "})
	l.Append(Exchange{Question: "q3", Response: "We swam all day."})

	want := "I went to the lake.\n\nWe swam all day."
	assert.Equal(t, want, l.Summary())

	// Pure function of the ledger: repeated calls agree.
	assert.Equal(t, l.Summary(), l.Summary())
}

func TestSummaryEmptyLedger(t *testing.T) {
	assert.Equal(t, "", New().Summary())
}
