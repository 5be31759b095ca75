package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_CloneIsDeep(t *testing.T) {
	orig := &Collection{Priority: -1, Source: 3, Children: []int{4, 5}}
	clone := orig.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, orig, clone)

	clone.Children[0] = 99
	assert.Equal(t, 4, orig.Children[0], "mutating the clone must not touch the original")

	var nilColl *Collection
	assert.Nil(t, nilColl.Clone())
}

func TestURL_IsSeed(t *testing.T) {
	assert.True(t, URL{ParentIndex: -1}.IsSeed())
	assert.False(t, URL{ParentIndex: 0}.IsSeed())
}

func TestSnapshot_JSONKeepsPendingBodies(t *testing.T) {
	snap := Snapshot{
		SessionID: "s1",
		TakenAt:   time.Now().UTC().Truncate(time.Second),
		URLs:      []URL{{Index: 0, URL: "http://a/", ParentIndex: -1, Range: &ByteRange{Start: 0, End: 9}}},
		LinkTree:  map[int][]int{0: {1, 2}},
		Workers: []WorkerState{{
			Role:     RoleFetcher,
			Slot:     1,
			InFlight: &Collection{Source: 0, Children: []int{1}},
			Pending:  map[int][]byte{1: []byte("<html></html>")},
		}},
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, snap.URLs, got.URLs)
	assert.Equal(t, snap.LinkTree, got.LinkTree)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, []byte("<html></html>"), got.Workers[0].Pending[1])
}
