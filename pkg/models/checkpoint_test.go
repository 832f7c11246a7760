package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_RoundTripThroughStruct(t *testing.T) {
	type publication struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}

	checkpoint, err := ToCheckpoint(publication{ID: "42", URL: "https://blog/post"})
	require.NoError(t, err)
	assert.Equal(t, "42", checkpoint["id"])

	var decoded publication
	require.NoError(t, checkpoint.Decode(&decoded))
	assert.Equal(t, "https://blog/post", decoded.URL)
}

func TestToCheckpoint_RejectsNonObjects(t *testing.T) {
	_, err := ToCheckpoint([]string{"a"})
	require.Error(t, err)
}

func TestCheckpoint_Skipped(t *testing.T) {
	assert.True(t, Checkpoint{"skipped": true, "error": "timeout"}.Skipped())
	assert.False(t, Checkpoint{"url": "x"}.Skipped())
	assert.False(t, Checkpoint(nil).Skipped())
}
