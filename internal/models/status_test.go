package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseStatus("  OCR_Finished ")
	require.NoError(t, err)
	assert.Equal(t, StatusOCRFinished, got)

	_, err = ParseStatus("scanning")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to InvoiceImageStatus
		ok       bool
	}{
		{StatusUploaded, StatusOCRInProgress, true},
		{StatusUploaded, StatusAnalysisInProgress, false},
		{StatusUploaded, StatusCompleted, false},
		{StatusOCRInProgress, StatusOCRFinished, true},
		{StatusOCRInProgress, StatusOCRFailed, true},
		{StatusOCRInProgress, StatusAnalysisInProgress, false},
		{StatusOCRFinished, StatusAnalysisInProgress, true},
		{StatusOCRFinished, StatusCompleted, true},
		{StatusOCRFailed, StatusOCRInProgress, true},
		{StatusOCRFailed, StatusAnalysisInProgress, false},
		{StatusAnalysisInProgress, StatusAnalysisFinished, true},
		{StatusAnalysisInProgress, StatusOCRInProgress, false},
		{StatusAnalysisFinished, StatusCompleted, true},
		{StatusAnalysisFailed, StatusAnalysisInProgress, true},
		{StatusCompleted, StatusOCRInProgress, true},
		{StatusCompleted, StatusUploaded, false},
		{StatusError, StatusOCRInProgress, true},
		{StatusError, StatusCompleted, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
			err := ValidateTransition(tc.from, tc.to)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var terr *TransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tc.from, terr.From)
			assert.Equal(t, tc.to, terr.To)
		})
	}
}

func TestEveryStatusHasAnExitAndNoSelfLoop(t *testing.T) {
	for _, s := range AllStatuses {
		next := AllowedTransitions(s)
		assert.NotEmpty(t, next, "status %s is a dead end", s)
		assert.False(t, CanTransition(s, s), "status %s allows a self transition", s)
		for _, n := range next {
			assert.True(t, n.Valid(), "status %s points at unknown %s", s, n)
		}
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	next := AllowedTransitions(StatusUploaded)
	next[0] = StatusCompleted
	assert.Equal(t, StatusOCRInProgress, AllowedTransitions(StatusUploaded)[0])
}

func TestUnknownStatusHasNoTransitions(t *testing.T) {
	assert.Empty(t, AllowedTransitions("bogus"))
	assert.False(t, CanTransition("bogus", StatusOCRInProgress))
}

func TestFailureFor(t *testing.T) {
	f, ok := StatusOCRInProgress.FailureFor()
	assert.True(t, ok)
	assert.Equal(t, StatusOCRFailed, f)

	f, ok = StatusAnalysisInProgress.FailureFor()
	assert.True(t, ok)
	assert.Equal(t, StatusAnalysisFailed, f)

	_, ok = StatusUploaded.FailureFor()
	assert.False(t, ok)

	for _, s := range AllStatuses {
		if fail, ok := s.FailureFor(); ok {
			assert.True(t, s.IsProcessing())
			assert.True(t, CanTransition(s, fail))
		}
	}
}
