package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SceneEntry describes one scene a player can enter.
type SceneEntry struct {
	ID     int32   `yaml:"id"`
	Name   string  `yaml:"name"`
	SpawnX float32 `yaml:"spawn_x"`
	SpawnY float32 `yaml:"spawn_y"`
	SpawnZ float32 `yaml:"spawn_z"`
	Width  float32 `yaml:"width"`  // x in [0, width]
	Height float32 `yaml:"height"` // y in [0, height]
}

// Contains reports whether (x, y) lies inside the scene bounds.
func (s *SceneEntry) Contains(x, y float32) bool {
	return x >= 0 && y >= 0 && x <= s.Width && y <= s.Height
}

// SceneTable is read-only after load.
type SceneTable struct {
	scenes map[int32]*SceneEntry
}

// LoadSceneTable loads scenes.yaml.
func LoadSceneTable(path string) (*SceneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene list: %w", err)
	}
	return ParseSceneTable(raw)
}

func ParseSceneTable(raw []byte) (*SceneTable, error) {
	var entries []SceneEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse scene list: %w", err)
	}
	t := &SceneTable{scenes: make(map[int32]*SceneEntry, len(entries))}
	for i := range entries {
		e := &entries[i]
		if e.ID <= 0 {
			return nil, fmt.Errorf("scene %q: id must be positive", e.Name)
		}
		if _, dup := t.scenes[e.ID]; dup {
			return nil, fmt.Errorf("scene %d defined twice", e.ID)
		}
		if e.Width <= 0 || e.Height <= 0 || !e.Contains(e.SpawnX, e.SpawnY) {
			return nil, fmt.Errorf("scene %d: spawn outside bounds", e.ID)
		}
		t.scenes[e.ID] = e
	}
	return t, nil
}

// Get returns the scene, or nil if none.
func (t *SceneTable) Get(id int32) *SceneEntry {
	return t.scenes[id]
}

func (t *SceneTable) Count() int {
	return len(t.scenes)
}
