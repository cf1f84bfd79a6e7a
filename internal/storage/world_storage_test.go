package storage

import (
	"testing"

	"github.com/annel0/map-editor/internal/vec"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T, compress bool) *WorldStorage {
	t.Helper()
	storage, err := NewWorldStorage(Options{InMemory: true, Compress: compress})
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func editedChunk() *world.Chunk {
	c := world.NewChunk(world.ChunkKey{TileX: 30, TileY: 41, Index: 200})
	heights := c.Heights()
	for i := range heights {
		heights[i].Y = float32(i) * 0.25
	}
	c.SetHeights(heights)
	colors := c.VertexColors()
	colors[3] = vec.Vec3F{X: 0.2, Y: 0.4, Z: 0.6}
	c.SetVertexColors(colors)
	c.SetHoles(0xFF00)
	c.SetAreaID(40)
	c.SetFlags(2)
	c.SetLiquids([]world.LiquidLayer{world.NewLiquidLayer(5, 12)})
	_, _ = c.Textures().AddTexture("dirt.blp")
	layer, _ := c.Textures().AddTexture("moss.blp")
	c.Textures().BeginTempEdit()
	c.Textures().PaintTemp(layer, 64, 1)
	c.Textures().ApplyAlphaChanges()
	return c
}

func TestSaveAndLoadChunk(t *testing.T) {
	for _, compress := range []bool{false, true} {
		storage := setupTestStorage(t, compress)
		chunk := editedChunk()

		require.NoError(t, storage.SaveChunk(chunk))
		assert.False(t, chunk.HasChanges(), "После сохранения маска изменений сбрасывается")

		rec, found, err := storage.LoadChunk(chunk.Key())
		require.NoError(t, err)
		require.True(t, found)

		restored := world.NewChunk(chunk.Key())
		rec.Apply(restored)

		assert.Equal(t, chunk.Heights(), restored.Heights())
		assert.Equal(t, chunk.VertexColors(), restored.VertexColors())
		assert.Equal(t, chunk.Holes(), restored.Holes())
		assert.Equal(t, chunk.AreaID(), restored.AreaID())
		assert.Equal(t, chunk.Flags(), restored.Flags())
		assert.Equal(t, chunk.Liquids(), restored.Liquids())
		assert.Equal(t, chunk.Textures().Textures(), restored.Textures().Textures())
		assert.Equal(t, uint8(255), restored.Textures().Alpha(1, 64))
		assert.False(t, restored.HasChanges())
	}
}

func TestLoadChunk_NotFound(t *testing.T) {
	storage := setupTestStorage(t, true)
	_, found, err := storage.LoadChunk(world.ChunkKey{TileX: 1})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChunkKeys(t *testing.T) {
	storage := setupTestStorage(t, true)
	keys := []world.ChunkKey{{TileX: 2, Index: 5}, {TileX: 1, Index: 9}, {TileX: 1, Index: 3}}
	for _, k := range keys {
		require.NoError(t, storage.SaveChunk(world.NewChunk(k)))
	}

	got, err := storage.ChunkKeys()
	require.NoError(t, err)
	assert.Equal(t, []world.ChunkKey{{TileX: 1, Index: 3}, {TileX: 1, Index: 9}, {TileX: 2, Index: 5}}, got)
}

func TestObjects(t *testing.T) {
	storage := setupTestStorage(t, true)

	src := objects.NewStaticSource()
	loader := objects.NewLoader(src, 1)
	loader.Start()
	defer loader.Stop()
	store := objects.NewStore(loader)

	a, _ := store.Spawn(objects.KindModel, "fern.m2", objects.Pose{Position: vec.Vec3F{X: 1}})
	b, _ := store.Spawn(objects.KindWMO, "tower.wmo", objects.Pose{Rotation: vec.Vec3F{Y: 45}, Scale: 1})
	instA, _ := store.Resolve(a)
	instB, _ := store.Resolve(b)

	require.NoError(t, storage.SaveObject(instB))
	require.NoError(t, storage.SaveObject(instA))

	records, err := storage.LoadObjects()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, a, records[0].UID)
	assert.Equal(t, "tower.wmo", records[1].File)
	assert.Equal(t, objects.KindWMO, records[1].Kind)
	assert.Equal(t, instB.Pose(), records[1].Pose)

	require.NoError(t, storage.DeleteObject(a))
	records, err = storage.LoadObjects()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b, records[0].UID)

	require.NoError(t, storage.ReplaceObjects([]*objects.Instance{instA}))
	records, err = storage.LoadObjects()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, a, records[0].UID, "ReplaceObjects удаляет объекты, которых нет в наборе")
}

func TestClosedStorage(t *testing.T) {
	storage, err := NewWorldStorage(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close(), "Повторное закрытие безопасно")

	assert.ErrorIs(t, storage.SaveChunk(world.NewChunk(world.ChunkKey{})), ErrNotReady)
	_, err = storage.LoadObjects()
	assert.ErrorIs(t, err, ErrNotReady)
}
