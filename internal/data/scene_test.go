package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSceneTable(t *testing.T) {
	tbl, err := ParseSceneTable([]byte(`
- id: 1
  name: Village
  spawn_x: 10
  spawn_y: 20
  width: 100
  height: 100
- id: 2
  name: Cave
  spawn_x: 1
  spawn_y: 1
  width: 50
  height: 50
`))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Count())

	s := tbl.Get(1)
	require.NotNil(t, s)
	assert.Equal(t, "Village", s.Name)
	assert.True(t, s.Contains(100, 0))
	assert.False(t, s.Contains(100.5, 0))
	assert.False(t, s.Contains(-1, 5))
	assert.Nil(t, tbl.Get(9))
}

func TestParseSceneTableRejectsBadEntries(t *testing.T) {
	_, err := ParseSceneTable([]byte("- {id: 1, width: 10, height: 10}\n- {id: 1, width: 10, height: 10}\n"))
	assert.ErrorContains(t, err, "twice")

	_, err = ParseSceneTable([]byte("- {id: 1, spawn_x: 11, width: 10, height: 10}\n"))
	assert.ErrorContains(t, err, "spawn")

	_, err = ParseSceneTable([]byte("- {id: 0, width: 10, height: 10}\n"))
	assert.Error(t, err)
}

func TestLoadShippedScenes(t *testing.T) {
	tbl, err := LoadSceneTable("../../data/yaml/scenes.yaml")
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Count())
}
