package data

import (
	"context"
	"fmt"
	"os"

	"github.com/segmentio/ksuid"
	"gopkg.in/yaml.v3"

	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/world"
)

// Spawn places Count entities into Collection at startup. With Count above
// one, ids are ID-1..ID-n; without an ID they are fresh KSUIDs.
type Spawn struct {
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id"`
	Count      int            `yaml:"count"`
	Fields     map[string]any `yaml:"fields"`
}

// SpawnSource loads the initial world population.
type SpawnSource interface {
	LoadSpawns(ctx context.Context) ([]Spawn, error)
}

type spawnListFile struct {
	Spawns []Spawn `yaml:"spawns"`
}

// YAMLSpawns reads spawns from a YAML file.
type YAMLSpawns struct {
	Path string
}

func (y YAMLSpawns) LoadSpawns(_ context.Context) ([]Spawn, error) {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return nil, fmt.Errorf("read spawn list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spawn list: %w", err)
	}
	return f.Spawns, nil
}

// DecodeFields parses a YAML or JSON object into plain fields. Integral
// numbers decode as int, so they coerce into integer codecs.
func DecodeFields(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

// Populate inserts spawns into s and returns the number of entities created.
func Populate(s *world.State, spawns []Spawn) (int, error) {
	n := 0
	for i, sp := range spawns {
		c := s.Collection(sp.Collection)
		if c == nil {
			return n, fmt.Errorf("spawn %d: unknown collection %q", i, sp.Collection)
		}
		count := sp.Count
		if count < 1 {
			count = 1
		}
		for k := 1; k <= count; k++ {
			id := sp.ID
			switch {
			case id == "":
				id = ksuid.New().String()
			case count > 1:
				id = fmt.Sprintf("%s-%d", sp.ID, k)
			}
			if c.Has(id) {
				return n, fmt.Errorf("spawn %d: duplicate id %s/%s", i, sp.Collection, id)
			}
			if _, err := c.Insert(id, codec.Fields(sp.Fields).Clone()); err != nil {
				return n, fmt.Errorf("spawn %d (%s/%s): %w", i, sp.Collection, id, err)
			}
			n++
		}
	}
	return n, nil
}
