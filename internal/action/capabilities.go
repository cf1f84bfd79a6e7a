package action

import (
	"context"

	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
)

// Chunk возможности чанка террейна, которые нужны движку отмены.
// Каждый сеттер сам сигнализирует владельцу об изменении своих данных.
// Действие не владеет чанком: хранится только ссылка и копии данных.
type Chunk interface {
	Key() world.ChunkKey

	Heights() world.HeightMap
	SetHeights(world.HeightMap)
	VertexColors() world.VertexColors
	SetVertexColors(world.VertexColors)
	RecalcNormals()

	Holes() uint64
	SetHoles(uint64)
	AreaID() uint32
	SetAreaID(uint32)
	Flags() uint32
	SetFlags(uint32)
	ShadowMap() world.ShadowMap
	SetShadowMap(world.ShadowMap)
	DoodadExclusion() world.DoodadExclusion
	SetDoodadExclusion(world.DoodadExclusion)
	LayerInfo() world.LayerInfoSet
	SetLayerInfo(world.LayerInfoSet)
	Liquids() []world.LiquidLayer
	SetLiquids([]world.LiquidLayer)

	Textures() *world.TextureSet
}

// ObjectStore возможности хранилища объектов.
// Spawn выдаёт новый UID; WaitLoaded может блокироваться на загрузчике.
type ObjectStore interface {
	Spawn(kind objects.Kind, file string, pose objects.Pose) (uint32, error)
	WaitLoaded(ctx context.Context, uid uint32) error
	Resolve(uid uint32) (*objects.Instance, bool)
	Delete(uid uint32) bool
	Index(inst *objects.Instance)
	Unindex(inst *objects.Instance)
}

// VertexSelector доступ к текущему выделению вершин как к непрозрачному значению
type VertexSelector interface {
	State() world.SelectionState
	Restore(world.SelectionState)
}

// Workspace коллабораторы, с которыми работает действие
type Workspace struct {
	Objects   ObjectStore
	Selection VertexSelector
}
