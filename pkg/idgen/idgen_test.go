package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	gen := New()
	assert.NotNil(t, gen)
	assert.NotNil(t, gen.sf)
}

func TestGenerateVMID(t *testing.T) {
	t.Parallel()

	gen := New()

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := gen.GenerateVMID()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(id, "vm-"), id)
		assert.False(t, ids[id], "ID should be unique: %s", id)
		ids[id] = true
	}
}

func TestGenerateSnapshotID(t *testing.T) {
	t.Parallel()

	id, err := New().GenerateSnapshotID()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "snap-"), id)
}

func TestGenerateID_Incremental(t *testing.T) {
	t.Parallel()

	gen := New()

	var prevID uint64
	for i := 0; i < 100; i++ {
		id, err := gen.GenerateID()
		require.NoError(t, err)

		if i > 0 {
			assert.Greater(t, id, prevID, "ID should be incremental: %d > %d", id, prevID)
		}
		prevID = id
	}
}

func TestDefaultGenerator(t *testing.T) {
	t.Parallel()

	gen1 := DefaultGenerator()
	gen2 := DefaultGenerator()

	assert.Same(t, gen1, gen2)
	assert.NotNil(t, gen1.sf)
}

func TestPackageLevelFunctions(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		testFn func() (string, error)
		prefix string
	}{
		{name: "GenerateVMID", testFn: GenerateVMID, prefix: "vm"},
		{name: "GenerateSnapshotID", testFn: GenerateSnapshotID, prefix: "snap"},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, err := tc.testFn()
			assert.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, tc.prefix+"-"), id)
		})
	}
}
