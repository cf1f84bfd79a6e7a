package world

import (
	"sort"
	"sync"

	"github.com/annel0/map-editor/internal/vec"
)

// Terrain хранит загруженные тайлы карты и их чанки
type Terrain struct {
	chunks    map[ChunkKey]*Chunk
	generator *TerrainGenerator
	mu        sync.RWMutex
}

// NewTerrain создаёт пустой террейн; generator может быть nil (плоские тайлы)
func NewTerrain(generator *TerrainGenerator) *Terrain {
	return &Terrain{
		chunks:    make(map[ChunkKey]*Chunk),
		generator: generator,
	}
}

// LoadTile создаёт все 256 чанков тайла, если он ещё не загружен
func (t *Terrain) LoadTile(tile vec.Vec2) []*Chunk {
	t.mu.Lock()
	created := make([]*Chunk, 0, ChunksPerTile*ChunksPerTile)
	for idx := 0; idx < ChunksPerTile*ChunksPerTile; idx++ {
		key := ChunkKey{TileX: tile.X, TileY: tile.Y, Index: idx}
		if _, exists := t.chunks[key]; exists {
			continue
		}
		c := NewChunk(key)
		c.terrain = t
		if t.generator != nil {
			t.generator.Fill(c)
		}
		t.chunks[key] = c
		created = append(created, c)
	}
	t.mu.Unlock()

	for _, c := range created {
		c.RecalcNormals()
		c.ClearDirty()
	}
	return created
}

// AddChunk регистрирует готовый чанк (используется при загрузке из хранилища)
func (t *Terrain) AddChunk(c *Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c.terrain = t
	t.chunks[c.key] = c
}

// Chunk возвращает чанк по ключу
func (t *Terrain) Chunk(key ChunkKey) (*Chunk, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.chunks[key]
	return c, ok
}

// ChunkAtGrid возвращает чанк по глобальным координатам сетки чанков
func (t *Terrain) ChunkAtGrid(g vec.Vec2) (*Chunk, bool) {
	return t.Chunk(ChunkKeyFromGrid(g))
}

// ChunkAt возвращает чанк, содержащий мировую точку (x, z)
func (t *Terrain) ChunkAt(x, z float32) (*Chunk, bool) {
	g := vec.Vec2{X: int(floor32(x / ChunkSize)), Y: int(floor32(z / ChunkSize))}
	return t.ChunkAtGrid(g)
}

// Chunks возвращает все чанки в детерминированном порядке
func (t *Terrain) Chunks() []*Chunk {
	t.mu.RLock()
	out := make([]*Chunk, 0, len(t.chunks))
	for _, c := range t.chunks {
		out = append(out, c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
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

// ChunksInRadius возвращает чанки, пересекающие круг на плоскости XZ
func (t *Terrain) ChunksInRadius(center vec.Vec3F, radius float32) []*Chunk {
	var out []*Chunk
	for _, c := range t.Chunks() {
		origin := chunkOrigin(c.key)
		nx := clampF(center.X, origin.X, origin.X+ChunkSize)
		nz := clampF(center.Z, origin.Z, origin.Z+ChunkSize)
		dx, dz := center.X-nx, center.Z-nz
		if dx*dx+dz*dz <= radius*radius {
			out = append(out, c)
		}
	}
	return out
}

// Neighbours возвращает существующие соседние чанки (8-связность)
func (t *Terrain) Neighbours(c *Chunk) []*Chunk {
	g := c.key.Grid()
	var out []*Chunk
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if n, ok := t.ChunkAtGrid(vec.Vec2{X: g.X + dx, Y: g.Y + dy}); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// outerHeight возвращает высоту внешней вершины по глобальным координатам сетки вершин.
// Краевые вершины общие для соседних чанков, поэтому пробуем оба варианта.
func (t *Terrain) outerHeight(gx, gz int) (float32, bool) {
	cx, lx := floorDiv(gx, 8), gx-floorDiv(gx, 8)*8
	cz, lz := floorDiv(gz, 8), gz-floorDiv(gz, 8)*8

	try := func(cx, cz, lx, lz int) (float32, bool) {
		c, ok := t.ChunkAtGrid(vec.Vec2{X: cx, Y: cz})
		if !ok {
			return 0, false
		}
		return c.Height(OuterIndex(lx, lz)), true
	}

	if h, ok := try(cx, cz, lx, lz); ok {
		return h, true
	}
	if lx == 0 {
		if h, ok := try(cx-1, cz, 8, lz); ok {
			return h, true
		}
	}
	if lz == 0 {
		if h, ok := try(cx, cz-1, lx, 8); ok {
			return h, true
		}
	}
	return 0, false
}

func floor32(v float32) float32 {
	i := float32(int(v))
	if v < i {
		return i - 1
	}
	return i
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
