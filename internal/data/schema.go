package data

import (
	"github.com/l1jgo/worldsync/internal/codec"
	"github.com/l1jgo/worldsync/internal/world"
)

// Collection names of the demo world.
const (
	Actors = "actors"
	Npcs   = "npcs"
	Items  = "items"
	Areas  = "areas"
)

// Schema is the demo world's registered layouts. Servers and clients build
// it in the same order so their fingerprints match.
type Schema struct {
	Registry *codec.Registry
	Position *codec.Object
	Actor    *codec.Object
	Npc      *codec.Object
	Item     *codec.Object
	Area     *codec.Object
	Notice   *codec.Object
}

func NewSchema() *Schema {
	reg := codec.NewRegistry()
	s := &Schema{Registry: reg}
	s.Position = reg.Object("position",
		codec.F("x", codec.Float32),
		codec.F("y", codec.Float32),
		codec.F("area", codec.String),
	)
	s.Actor = reg.Object("actor",
		codec.F("name", codec.String),
		codec.F("hp", codec.Int32),
		codec.F("position", s.Position),
		codec.F("tags", codec.SetOf(codec.String)),
	)
	s.Npc = reg.Object("npc",
		codec.F("name", codec.String),
		codec.F("kind", codec.String),
		codec.F("hp", codec.Int32),
		codec.F("position", s.Position),
	)
	s.Item = reg.Object("item",
		codec.F("owner", codec.String),
		codec.F("name", codec.String),
		codec.F("count", codec.Uint16),
	)
	s.Area = reg.Object("area",
		codec.F("title", codec.String),
		codec.F("width", codec.Int32),
		codec.F("height", codec.Int32),
	)
	s.Notice = reg.Object("notice",
		codec.F("actor", codec.String),
		codec.F("text", codec.String),
	)
	return s
}

// NewState creates the empty demo world.
func (s *Schema) NewState() *world.State {
	return world.NewState(
		world.NewCollection(Actors, s.Actor),
		world.NewCollection(Npcs, s.Npc),
		world.NewCollection(Items, s.Item),
		world.NewCollection(Areas, s.Area),
	)
}

// NewActor builds the entity a joining observer controls.
func (s *Schema) NewActor(name string, x, y float32, area string) codec.Fields {
	return codec.Fields{
		"name": name,
		"hp":   100,
		"position": codec.Fields{
			"x":    x,
			"y":    y,
			"area": area,
		},
		"tags": []any{},
	}
}
