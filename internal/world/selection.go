package world

import (
	"sort"
	"sync"

	"github.com/annel0/map-editor/internal/vec"
)

// VertexRef ссылается на вершину по ключу чанка и индексу, а не указателем
type VertexRef struct {
	Chunk ChunkKey `json:"chunk"`
	Index int      `json:"index"`
}

// SelectionState значение выделения вершин
type SelectionState struct {
	Tiles        []vec.Vec2  `json:"tiles"`
	Chunks       []ChunkKey  `json:"chunks"`
	BorderChunks []ChunkKey  `json:"border_chunks"`
	Vertices     []VertexRef `json:"vertices"`
	Center       vec.Vec3F   `json:"center"`
}

// Empty сообщает, что ни одна вершина не выделена
func (s SelectionState) Empty() bool {
	return len(s.Vertices) == 0
}

// Clone возвращает глубокую копию
func (s SelectionState) Clone() SelectionState {
	return SelectionState{
		Tiles:        append([]vec.Vec2(nil), s.Tiles...),
		Chunks:       append([]ChunkKey(nil), s.Chunks...),
		BorderChunks: append([]ChunkKey(nil), s.BorderChunks...),
		Vertices:     append([]VertexRef(nil), s.Vertices...),
		Center:       s.Center,
	}
}

// VertexSelection текущее выделение вершин редактора
type VertexSelection struct {
	terrain *Terrain
	state   SelectionState
	mu      sync.RWMutex
}

// NewVertexSelection создаёт пустое выделение над террейном
func NewVertexSelection(terrain *Terrain) *VertexSelection {
	return &VertexSelection{terrain: terrain}
}

// State возвращает копию текущего выделения
func (vs *VertexSelection) State() SelectionState {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.state.Clone()
}

// Restore заменяет выделение копией state
func (vs *VertexSelection) Restore(state SelectionState) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.state = state.Clone()
}

// Clear снимает выделение
func (vs *VertexSelection) Clear() {
	vs.Restore(SelectionState{})
}

// Select добавляет к выделению все вершины в круге и пересчитывает центр
func (vs *VertexSelection) Select(center vec.Vec3F, radius float32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	seen := make(map[VertexRef]struct{}, len(vs.state.Vertices))
	for _, v := range vs.state.Vertices {
		seen[v] = struct{}{}
	}

	for _, c := range vs.terrain.ChunksInRadius(center, radius) {
		heights := c.Heights()
		for i, v := range heights {
			dx, dz := v.X-center.X, v.Z-center.Z
			if dx*dx+dz*dz > radius*radius {
				continue
			}
			ref := VertexRef{Chunk: c.key, Index: i}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			vs.state.Vertices = append(vs.state.Vertices, ref)
		}
	}

	vs.recompute()
}

// recompute пересчитывает тайлы, чанки, граничные чанки и центр
func (vs *VertexSelection) recompute() {
	tiles := make(map[vec.Vec2]struct{})
	chunks := make(map[ChunkKey]struct{})
	var sum vec.Vec3F

	for _, ref := range vs.state.Vertices {
		chunks[ref.Chunk] = struct{}{}
		tiles[ref.Chunk.Tile()] = struct{}{}
		if c, ok := vs.terrain.Chunk(ref.Chunk); ok {
			sum = sum.Add(c.Heights()[ref.Index])
		}
	}

	border := make(map[ChunkKey]struct{})
	for key := range chunks {
		c, ok := vs.terrain.Chunk(key)
		if !ok {
			continue
		}
		for _, n := range vs.terrain.Neighbours(c) {
			if _, in := chunks[n.key]; !in {
				border[n.key] = struct{}{}
			}
		}
	}

	vs.state.Tiles = sortedTiles(tiles)
	vs.state.Chunks = sortedKeys(chunks)
	vs.state.BorderChunks = sortedKeys(border)
	if n := len(vs.state.Vertices); n > 0 {
		vs.state.Center = sum.Mul(1 / float32(n))
	} else {
		vs.state.Center = vec.Vec3F{}
	}
}

func sortedKeys(m map[ChunkKey]struct{}) []ChunkKey {
	out := make([]ChunkKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TileX != b.TileX {
			return a.TileX < b.TileX
		}
		if a.TileY != b.TileY {
			return a.TileY < b.TileY
		}
		return a.Index < b.Index
	})
	return out
}

func sortedTiles(m map[vec.Vec2]struct{}) []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}
