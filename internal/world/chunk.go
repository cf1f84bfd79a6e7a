package world

import (
	"fmt"
	"sync"

	"github.com/annel0/map-editor/internal/vec"
)

// Геометрия тайла и чанка
const (
	TileSize      float32 = 1600.0 / 3.0 // Размер тайла в мировых единицах
	ChunksPerTile         = 16           // Чанков по стороне тайла
	ChunkSize             = TileSize / ChunksPerTile
	UnitSize              = ChunkSize / 8 // Расстояние между внешними вершинами

	ChunkVertexCount    = 145 // 9*9 внешних + 8*8 внутренних вершин
	HeightFloatCount    = ChunkVertexCount * 3
	ShadowMapSize       = 512 // 64x64 бит
	DoodadExclusionSize = 8   // 8x8 бит
	MaxTextureLayers    = 4
)

// ChunkKey однозначно адресует чанк: тайл и индекс чанка внутри тайла (0..255)
type ChunkKey struct {
	TileX int `json:"tile_x"`
	TileY int `json:"tile_y"`
	Index int `json:"index"`
}

// Grid возвращает глобальные координаты чанка в сетке чанков
func (k ChunkKey) Grid() vec.Vec2 {
	return vec.Vec2{
		X: k.TileX*ChunksPerTile + k.Index%ChunksPerTile,
		Y: k.TileY*ChunksPerTile + k.Index/ChunksPerTile,
	}
}

// Tile возвращает координаты тайла
func (k ChunkKey) Tile() vec.Vec2 {
	return vec.Vec2{X: k.TileX, Y: k.TileY}
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%d_%d#%d", k.TileX, k.TileY, k.Index)
}

// ChunkKeyFromGrid обратное преобразование к Grid
func ChunkKeyFromGrid(g vec.Vec2) ChunkKey {
	tx := floorDiv(g.X, ChunksPerTile)
	ty := floorDiv(g.Y, ChunksPerTile)
	lx := g.X - tx*ChunksPerTile
	ly := g.Y - ty*ChunksPerTile
	return ChunkKey{TileX: tx, TileY: ty, Index: ly*ChunksPerTile + lx}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// HeightMap вершины чанка: 145 позиций по 3 компоненты
type HeightMap [ChunkVertexCount]vec.Vec3F

// VertexColors цвета вершин (RGB)
type VertexColors [ChunkVertexCount]vec.Vec3F

// ShadowMap запечённая карта теней 64x64 бит
type ShadowMap [ShadowMapSize]byte

// DoodadExclusion маска запрета мелких объектов 8x8 бит
type DoodadExclusion [DoodadExclusionSize]byte

// LayerInfo описание одного текстурного слоя чанка
type LayerInfo struct {
	TextureID    uint32 `json:"texture_id"`
	Flags        uint32 `json:"flags"`
	OffsetInMCAL uint32 `json:"offset_in_mcal"`
	EffectID     uint32 `json:"effect_id"`
}

// LayerInfoSet фиксированные 4 слота описаний слоёв
type LayerInfoSet [MaxTextureLayers]LayerInfo

// DirtyMask отмечает, какие данные чанка изменились с последней выгрузки
type DirtyMask uint32

const (
	DirtyHeights DirtyMask = 1 << iota
	DirtyNormals
	DirtyColors
	DirtyHoles
	DirtyAreaID
	DirtyFlags
	DirtyShadows
	DirtyDoodadExclusion
	DirtyLayerInfo
	DirtyLiquids
	DirtyTextures
)

// Chunk представляет участок террейна 8x8 клеток
type Chunk struct {
	key     ChunkKey
	terrain *Terrain // для доступа к соседям при пересчёте нормалей

	heights         HeightMap
	normals         HeightMap
	colors          VertexColors
	hasColors       bool
	holes           uint64
	areaID          uint32
	flags           uint32
	shadows         ShadowMap
	doodadExclusion DoodadExclusion
	layerInfo       LayerInfoSet
	liquids         []LiquidLayer
	textures        *TextureSet

	dirty         DirtyMask
	ChangeCounter int          // Счетчик изменений
	Mu            sync.RWMutex // Мьютекс для безопасного доступа
}

// NewChunk создаёт плоский чанк с вершинами, разложенными по сетке
func NewChunk(key ChunkKey) *Chunk {
	c := &Chunk{key: key}
	c.textures = newTextureSet(c)

	origin := chunkOrigin(key)
	for i := 0; i < ChunkVertexCount; i++ {
		x, z := VertexOffset(i)
		c.heights[i] = vec.Vec3F{X: origin.X + x, Y: 0, Z: origin.Z + z}
		c.normals[i] = vec.Vec3F{Y: 1}
		c.colors[i] = vec.Vec3F{X: 1, Y: 1, Z: 1}
	}
	return c
}

func chunkOrigin(key ChunkKey) vec.Vec3F {
	g := key.Grid()
	return vec.Vec3F{X: float32(g.X) * ChunkSize, Z: float32(g.Y) * ChunkSize}
}

// VertexOffset возвращает локальные координаты (x, z) вершины внутри чанка.
// Ряды чередуются: 9 внешних вершин, затем 8 внутренних.
func VertexOffset(i int) (float32, float32) {
	row, col, inner := vertexCell(i)
	if inner {
		return (float32(col) + 0.5) * UnitSize, (float32(row) + 0.5) * UnitSize
	}
	return float32(col) * UnitSize, float32(row) * UnitSize
}

// vertexCell возвращает номер ряда внешней сетки, столбец и признак внутренней вершины
func vertexCell(i int) (row, col int, inner bool) {
	block := i / 17
	rest := i % 17
	if rest < 9 {
		return block, rest, false
	}
	return block, rest - 9, true
}

// OuterIndex индекс внешней вершины (col, row) в диапазоне 0..8
func OuterIndex(col, row int) int {
	return row*17 + col
}

// InnerIndex индекс внутренней вершины (col, row) в диапазоне 0..7
func InnerIndex(col, row int) int {
	return row*17 + 9 + col
}

func (c *Chunk) markDirty(mask DirtyMask) {
	c.dirty |= mask
	c.ChangeCounter++
}

// Key возвращает ключ чанка
func (c *Chunk) Key() ChunkKey {
	return c.key
}

// Heights возвращает копию вершин
func (c *Chunk) Heights() HeightMap {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.heights
}

// SetHeights записывает вершины целиком и помечает высоты изменёнными
func (c *Chunk) SetHeights(h HeightMap) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.heights = h
	c.markDirty(DirtyHeights)
}

// Height возвращает высоту одной вершины
func (c *Chunk) Height(i int) float32 {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.heights[i].Y
}

// Normals возвращает копию нормалей
func (c *Chunk) Normals() HeightMap {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.normals
}

// VertexColors возвращает копию цветов вершин
func (c *Chunk) VertexColors() VertexColors {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.colors
}

// SetVertexColors записывает цвета вершин
func (c *Chunk) SetVertexColors(colors VertexColors) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.colors = colors
	c.hasColors = true
	c.markDirty(DirtyColors)
}

// HasVertexColors сообщает, были ли цвета вершин когда-либо заданы
func (c *Chunk) HasVertexColors() bool {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.hasColors
}

// Holes возвращает маску дыр 8x8
func (c *Chunk) Holes() uint64 {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.holes
}

// SetHoles записывает маску дыр
func (c *Chunk) SetHoles(holes uint64) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.holes = holes
	c.markDirty(DirtyHoles)
}

// AreaID возвращает идентификатор зоны
func (c *Chunk) AreaID() uint32 {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.areaID
}

// SetAreaID записывает идентификатор зоны
func (c *Chunk) SetAreaID(id uint32) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.areaID = id
	c.markDirty(DirtyAreaID)
}

// Flags возвращает слово флагов чанка
func (c *Chunk) Flags() uint32 {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.flags
}

// SetFlags записывает слово флагов чанка
func (c *Chunk) SetFlags(flags uint32) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.flags = flags
	c.markDirty(DirtyFlags)
}

// ShadowMap возвращает копию карты теней
func (c *Chunk) ShadowMap() ShadowMap {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.shadows
}

// SetShadowMap записывает карту теней
func (c *Chunk) SetShadowMap(m ShadowMap) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.shadows = m
	c.markDirty(DirtyShadows)
}

// DoodadExclusion возвращает маску запрета мелких объектов
func (c *Chunk) DoodadExclusion() DoodadExclusion {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.doodadExclusion
}

// SetDoodadExclusion записывает маску запрета мелких объектов
func (c *Chunk) SetDoodadExclusion(m DoodadExclusion) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.doodadExclusion = m
	c.markDirty(DirtyDoodadExclusion)
}

// LayerInfo возвращает описания текстурных слоёв
func (c *Chunk) LayerInfo() LayerInfoSet {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.layerInfo
}

// SetLayerInfo записывает описания текстурных слоёв
func (c *Chunk) SetLayerInfo(info LayerInfoSet) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.layerInfo = info
	c.markDirty(DirtyLayerInfo)
}

// Liquids возвращает копию списка слоёв жидкости
func (c *Chunk) Liquids() []LiquidLayer {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return cloneLiquids(c.liquids)
}

// SetLiquids заменяет слои жидкости копией переданного списка
func (c *Chunk) SetLiquids(layers []LiquidLayer) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.liquids = cloneLiquids(layers)
	c.markDirty(DirtyLiquids)
}

// Textures возвращает текстурный набор чанка
func (c *Chunk) Textures() *TextureSet {
	return c.textures
}

// Dirty возвращает накопленную маску изменений
func (c *Chunk) Dirty() DirtyMask {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.dirty
}

// ClearDirty сбрасывает маску изменений (после выгрузки или сохранения)
func (c *Chunk) ClearDirty() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.dirty = 0
}

// HasChanges проверяет наличие несохранённых изменений
func (c *Chunk) HasChanges() bool {
	return c.Dirty() != 0
}

// RecalcNormals пересчитывает нормали по высотам чанка и его соседей
func (c *Chunk) RecalcNormals() {
	g := c.key.Grid()

	c.Mu.RLock()
	heights := c.heights
	c.Mu.RUnlock()

	sample := func(col, row int) float32 {
		if col >= 0 && col <= 8 && row >= 0 && row <= 8 {
			return heights[OuterIndex(col, row)].Y
		}
		if c.terrain != nil {
			if h, ok := c.terrain.outerHeight(g.X*8+col, g.Y*8+row); ok {
				return h
			}
		}
		// Нет соседа: зажимаем к краю своего чанка
		return heights[OuterIndex(clamp(col, 0, 8), clamp(row, 0, 8))].Y
	}

	var normals HeightMap
	for row := 0; row <= 8; row++ {
		for col := 0; col <= 8; col++ {
			dx := sample(col-1, row) - sample(col+1, row)
			dz := sample(col, row-1) - sample(col, row+1)
			normals[OuterIndex(col, row)] = vec.Vec3F{X: dx, Y: 2 * UnitSize, Z: dz}.Normalized()
		}
	}
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			dx := (sample(col, row) + sample(col, row+1)) - (sample(col+1, row) + sample(col+1, row+1))
			dz := (sample(col, row) + sample(col+1, row)) - (sample(col, row+1) + sample(col+1, row+1))
			normals[InnerIndex(col, row)] = vec.Vec3F{X: dx, Y: 2 * UnitSize, Z: dz}.Normalized()
		}
	}

	c.Mu.Lock()
	c.normals = normals
	c.markDirty(DirtyNormals)
	c.Mu.Unlock()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
