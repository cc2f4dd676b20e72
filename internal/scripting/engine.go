package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/codec"
)

// Engine wraps a single gopher-lua VM for gameplay hooks.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every script under scriptsDir:
// top-level files first, then the feature directories.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, dir := range []string{scriptsDir, filepath.Join(scriptsDir, "visibility"), filepath.Join(scriptsDir, "ai")} {
		if err := e.loadDir(dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) Close() { e.vm.Close() }

// Has reports whether a global Lua function is defined.
func (e *Engine) Has(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// ViewRadius calls view_radius(ctx) and returns the adjusted radius. ctx
// carries observer, base and actor (nil when the observer has no actor).
// Missing function or script errors return base.
func (e *Engine) ViewRadius(observer string, base int, actor codec.Fields) int {
	fn := e.vm.GetGlobal("view_radius")
	if fn == lua.LNil {
		return base
	}

	t := e.vm.NewTable()
	t.RawSetString("observer", lua.LString(observer))
	t.RawSetString("base", lua.LNumber(base))
	if actor != nil {
		t.RawSetString("actor", e.toLua(actor))
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua view_radius error", zap.String("observer", observer), zap.Error(err))
		return base
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n, ok := result.(lua.LNumber)
	if !ok {
		e.log.Error("lua view_radius returned non-number", zap.String("type", result.Type().String()))
		return base
	}
	return int(n)
}

// NpcContext is the input of the npc_step hook.
type NpcContext struct {
	ID   string
	Tick uint64
	NPC  codec.Fields
}

// NpcStep calls npc_step(ctx) and returns the tile offset to move by.
// ok is false when the hook is missing or fails.
func (e *Engine) NpcStep(ctx NpcContext) (dx, dy int, ok bool) {
	fn := e.vm.GetGlobal("npc_step")
	if fn == lua.LNil {
		return 0, 0, false
	}

	t := e.vm.NewTable()
	t.RawSetString("id", lua.LString(ctx.ID))
	t.RawSetString("tick", lua.LNumber(ctx.Tick))
	t.RawSetString("npc", e.toLua(ctx.NPC))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    2,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua npc_step error", zap.String("npc", ctx.ID), zap.Error(err))
		return 0, 0, false
	}

	x, y := e.vm.Get(-2), e.vm.Get(-1)
	e.vm.Pop(2)
	return int(lua.LVAsNumber(x)), int(lua.LVAsNumber(y)), true
}

// toLua converts a plain replicated value into Lua values. Object and map
// fields become tables with string keys; arrays and sets become sequences.
func (e *Engine) toLua(v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case uint8:
		return lua.LNumber(t)
	case int16:
		return lua.LNumber(t)
	case uint16:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case uint32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case codec.Fields:
		return e.tableOf(t)
	case map[string]any:
		return e.tableOf(t)
	case []any:
		tbl := e.vm.NewTable()
		for _, item := range t {
			tbl.Append(e.toLua(item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

func (e *Engine) tableOf(m map[string]any) *lua.LTable {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tbl := e.vm.NewTable()
	for _, k := range keys {
		tbl.RawSetString(k, e.toLua(m[k]))
	}
	return tbl
}
