package action

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/map-editor/internal/vec"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *objects.Store {
	t.Helper()
	src := objects.NewStaticSource()
	src.Add(objects.BoxModel("tree.m2", vec.Vec3F{X: 2, Y: 6, Z: 2}))
	src.Add(objects.BoxModel("house.wmo", vec.Vec3F{X: 10, Y: 8, Z: 12}, "house_000.wmo"))
	src.Add(objects.BoxModel("house_000.wmo", vec.Vec3F{X: 1, Y: 1, Z: 1}))

	loader := objects.NewLoader(src, 2)
	loader.Start()
	t.Cleanup(loader.Stop)
	return objects.NewStore(loader)
}

func spawn(t *testing.T, store *objects.Store, file string, pos vec.Vec3F) *objects.Instance {
	t.Helper()
	uid, err := store.Spawn(objects.KindModel, file, objects.Pose{Position: pos, Scale: 1})
	require.NoError(t, err)
	require.NoError(t, store.WaitLoaded(context.Background(), uid))
	inst, ok := store.Resolve(uid)
	require.True(t, ok)
	return inst
}

func raise(c *world.Chunk, dy float32) {
	h := c.Heights()
	for i := range h {
		h[i].Y += dy
	}
	c.SetHeights(h)
}

func TestRegistration_Idempotent(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{})
	a := newAction(nil, KindNone, ModalityNone, nil)

	a.RegisterTerrainChange(c)
	assert.True(t, a.Flags().Has(KindTerrainHeights))

	raise(c, 5)
	a.RegisterTerrainChange(c)

	assert.Equal(t, 1, a.RegisteredChunks(KindTerrainHeights), "Повторная регистрация не должна добавлять запись")
	pre, ok := a.PreHeights(c)
	require.True(t, ok)
	assert.Equal(t, float32(0), pre[0].Y, "Авторитетен пре-снимок первой регистрации")
}

func TestRegisterAllChunkChanges(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{})
	a := newAction(nil, KindNone, ModalityNone, nil)

	a.RegisterAllChunkChanges(c)
	a.RegisterAllChunkChanges(c)

	assert.True(t, a.Flags().Has(KindAllChunk))
	for _, kind := range []MutationKind{
		KindTerrainHeights, KindAreaID, KindHoles, KindVertexColors, KindLiquids,
		KindTextureLayers, KindChunkFlags, KindChunkShadowMap, KindChunkDoodadExclusion, KindChunkLayerInfo,
	} {
		assert.Equal(t, 1, a.RegisteredChunks(kind), kind.String())
	}
}

func TestTerrainRoundTrip(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{TileX: 3, TileY: 4, Index: 17})
	h0 := c.Heights()

	a := newAction(nil, KindNone, ModalityNone, nil)
	a.RegisterTerrainChange(c)
	raise(c, 12.5)
	h1 := c.Heights()
	a.Finish()

	require.NoError(t, a.Undo(context.Background(), false))
	assert.Equal(t, h0, c.Heights(), "Undo должен вернуть исходные высоты байт в байт")

	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, h1, c.Heights(), "Redo должен вернуть изменённые высоты")
	assert.NotZero(t, c.Dirty()&world.DirtyNormals, "После записи высот нормали пересчитываются")
}

func TestChunkScalarsRoundTrip(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{})
	a := newAction(nil, KindNone, ModalityNone, nil)

	a.RegisterAreaIDChange(c)
	a.RegisterHolesChange(c)
	a.RegisterFlagsChange(c)
	a.RegisterLiquidChange(c)
	a.RegisterShadowMapChange(c)
	a.RegisterDoodadExclusionChange(c)
	a.RegisterLayerInfoChange(c)
	a.RegisterVertexColorChange(c)

	c.SetAreaID(1519)
	c.SetHoles(0xF0)
	c.SetFlags(0x4)
	c.SetLiquids([]world.LiquidLayer{world.NewLiquidLayer(2, 10)})
	var sm world.ShadowMap
	sm[7] = 0xFF
	c.SetShadowMap(sm)
	var de world.DoodadExclusion
	de[1] = 0x81
	c.SetDoodadExclusion(de)
	var li world.LayerInfoSet
	li[0].TextureID = 42
	c.SetLayerInfo(li)
	colors := c.VertexColors()
	colors[10] = vec.Vec3F{X: 0.5}
	c.SetVertexColors(colors)
	a.Finish()

	require.NoError(t, a.Undo(context.Background(), false))
	assert.Equal(t, uint32(0), c.AreaID())
	assert.Equal(t, uint64(0), c.Holes())
	assert.Equal(t, uint32(0), c.Flags())
	assert.Empty(t, c.Liquids())
	assert.Equal(t, world.ShadowMap{}, c.ShadowMap())
	assert.Equal(t, world.DoodadExclusion{}, c.DoodadExclusion())
	assert.Equal(t, world.LayerInfoSet{}, c.LayerInfo())
	assert.Equal(t, vec.Vec3F{X: 1, Y: 1, Z: 1}, c.VertexColors()[10])

	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, uint32(1519), c.AreaID())
	assert.Equal(t, uint64(0xF0), c.Holes())
	assert.Equal(t, uint32(0x4), c.Flags())
	require.Len(t, c.Liquids(), 1)
	assert.Equal(t, uint16(2), c.Liquids()[0].LiquidID)
	assert.Equal(t, sm, c.ShadowMap())
	assert.Equal(t, de, c.DoodadExclusion())
	assert.Equal(t, li, c.LayerInfo())
	assert.Equal(t, vec.Vec3F{X: 0.5}, c.VertexColors()[10])
}

func TestTextureRoundTrip_SnapshotStaysImmutable(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{})
	_, err := c.Textures().AddTexture("grass.blp")
	require.NoError(t, err)

	a := newAction(nil, KindNone, ModalityNone, nil)
	a.RegisterTextureChange(c)

	layer, err := c.Textures().AddTexture("rock.blp")
	require.NoError(t, err)
	c.Textures().BeginTempEdit()
	c.Textures().PaintTemp(layer, 100, 1)
	c.Textures().ApplyAlphaChanges()
	a.Finish()

	require.Equal(t, 2, c.Textures().Count())
	require.Equal(t, uint8(255), c.Textures().Alpha(1, 100))

	require.NoError(t, a.Undo(context.Background(), false))
	assert.Equal(t, []string{"grass.blp"}, c.Textures().Textures())

	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, []string{"grass.blp", "rock.blp"}, c.Textures().Textures())

	// Правка живого набора не должна портить пост-снимок
	c.Textures().BeginTempEdit()
	c.Textures().PaintTemp(0, 100, 1)
	c.Textures().ApplyAlphaChanges()
	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, uint8(255), c.Textures().Alpha(1, 100))
}

func TestUndo_RequiresFinish(t *testing.T) {
	a := newAction(nil, KindNone, ModalityNone, nil)
	a.RegisterTerrainChange(world.NewChunk(world.ChunkKey{}))

	err := a.Undo(context.Background(), false)
	assert.ErrorIs(t, err, ErrNotFinished)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestFinish_IdempotentAndCallback(t *testing.T) {
	c := world.NewChunk(world.ChunkKey{})
	a := newAction(nil, KindNone, ModalityNone, nil)
	calls := 0
	a.SetPostCallback(func() { calls++ })

	a.RegisterAreaIDChange(c)
	c.SetAreaID(7)
	a.Finish()
	c.SetAreaID(8)
	a.Finish()

	assert.Equal(t, 1, calls)
	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, uint32(7), c.AreaID(), "Пост-снимок снимается один раз")

	a.RegisterHolesChange(c)
	assert.False(t, a.Flags().Has(KindHoles), "Регистрация после Finish игнорируется")
}

func TestObjectChurn_AddThenTransform(t *testing.T) {
	store := newTestStore(t)
	ws := &Workspace{Objects: store}
	ctx := context.Background()

	a := newAction(ws, KindNone, ModalityNone, nil)
	inst := spawn(t, store, "tree.m2", vec.Vec3F{X: 10, Z: 10})
	oldUID := inst.UID
	a.RegisterObjectAdded(inst)
	a.RegisterObjectTransformed(inst)

	p1 := objects.Pose{Position: vec.Vec3F{X: 50, Y: 2, Z: 60}, Rotation: vec.Vec3F{Y: 90}, Scale: 2}
	inst.SetPose(p1)
	a.Finish()

	assert.Equal(t, []ObjectOp{OpAdded, OpTransformed}, a.ObjectOps()[oldUID])

	require.NoError(t, a.Undo(ctx, false))
	_, ok := store.Resolve(oldUID)
	assert.False(t, ok, "Отмена добавления удаляет объект")
	assert.Equal(t, 0, store.Len())

	require.NoError(t, a.Undo(ctx, true))
	require.Equal(t, 1, store.Len())
	recreated := store.All()[0]
	assert.NotEqual(t, oldUID, recreated.UID, "Повтор создаёт объект под новым UID")
	assert.Equal(t, p1, recreated.Pose(), "Перемещение переадресовано на новый UID")
	assert.True(t, recreated.Loaded())
	assert.True(t, store.Indexed(recreated.UID))
	assert.Equal(t, []uint32{recreated.UID}, a.ObjectUIDs())

	// Второй цикл работает по переименованным записям
	require.NoError(t, a.Undo(ctx, false))
	assert.Equal(t, 0, store.Len())
	require.NoError(t, a.Undo(ctx, true))
	require.Equal(t, 1, store.Len())
	assert.Equal(t, p1, store.All()[0].Pose())
}

func TestObjectChurn_RemoveRestoresWithNewUID(t *testing.T) {
	store := newTestStore(t)
	ws := &Workspace{Objects: store}
	ctx := context.Background()

	inst := spawn(t, store, "house.wmo", vec.Vec3F{X: 5, Z: 5})
	pose := inst.Pose()

	a := newAction(ws, KindNone, ModalityNone, nil)
	a.RegisterObjectRemoved(inst)
	require.True(t, store.Delete(inst.UID))
	a.Finish()

	require.NoError(t, a.Undo(ctx, false))
	require.Equal(t, 1, store.Len())
	restored := store.All()[0]
	assert.NotEqual(t, inst.UID, restored.UID)
	assert.Equal(t, pose, restored.Pose())
	assert.Equal(t, "house.wmo", restored.File)

	require.NoError(t, a.Undo(ctx, true))
	assert.Equal(t, 0, store.Len(), "Повтор удаления удаляет восстановленный объект")
}

func TestObjectTransform_AfterDeleteFallsBackToPre(t *testing.T) {
	store := newTestStore(t)
	ws := &Workspace{Objects: store}
	ctx := context.Background()

	inst := spawn(t, store, "tree.m2", vec.Vec3F{X: 1, Z: 1})
	pre := inst.Pose()

	a := newAction(ws, KindNone, ModalityNone, nil)
	a.RegisterObjectTransformed(inst)
	inst.SetPose(objects.Pose{Position: vec.Vec3F{X: 30}, Scale: 1})
	a.RegisterObjectRemoved(inst)
	store.Delete(inst.UID)
	a.Finish()

	assert.Equal(t, []ObjectOp{OpTransformed, OpRemoved}, a.ObjectOps()[inst.UID])

	// Обратный порядок: сначала восстанавливаем удалённый, затем возвращаем позу
	require.NoError(t, a.Undo(ctx, false))
	require.Equal(t, 1, store.Len())
	assert.Equal(t, pre, store.All()[0].Pose())

	require.NoError(t, a.Undo(ctx, true))
	assert.Equal(t, 0, store.Len())
}

func TestObjectReplay_LoadTimeout(t *testing.T) {
	src := objects.NewStaticSource()
	src.Add(objects.BoxModel("tree.m2", vec.Vec3F{X: 1, Y: 1, Z: 1}))
	// Загрузчик не запущен, но очередь буферизована: экземпляр никогда не загрузится
	store := objects.NewStore(objects.NewLoader(src, 1))

	uid, err := store.Spawn(objects.KindModel, "tree.m2", objects.Pose{Scale: 1})
	require.NoError(t, err)
	inst, _ := store.Resolve(uid)

	a := newAction(&Workspace{Objects: store}, KindNone, ModalityNone, nil)
	a.RegisterObjectRemoved(inst)
	store.Delete(uid)
	a.Finish()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = a.Undo(ctx, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Объект создан, его новый UID уже записан в журнал
	require.Equal(t, 1, store.Len())
	assert.Equal(t, []uint32{store.All()[0].UID}, a.ObjectUIDs())
}

func TestObjectReplay_MissingSnapshotSkipped(t *testing.T) {
	store := newTestStore(t)
	a := newAction(&Workspace{Objects: store}, KindObjectAdded, ModalityNone, nil)
	// Тег без соответствующего снимка
	a.objectOps[99] = []ObjectOp{OpAdded}
	a.Finish()

	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []uint32{99}, a.ObjectUIDs(), "Запись сохраняет прежний ключ")
}

func TestObjectReplay_NoStore(t *testing.T) {
	store := newTestStore(t)
	inst := spawn(t, store, "tree.m2", vec.Vec3F{})

	a := newAction(&Workspace{}, KindNone, ModalityNone, nil)
	a.RegisterObjectTransformed(inst)
	a.Finish()

	assert.ErrorIs(t, a.Undo(context.Background(), false), ErrNoWorkspace)
}

func TestVertexSelection_Idempotent(t *testing.T) {
	terrain := world.NewTerrain(nil)
	terrain.AddChunk(world.NewChunk(world.ChunkKey{}))
	sel := world.NewVertexSelection(terrain)
	sel.Select(vec.Vec3F{X: 10, Z: 10}, 5)
	before := sel.State()
	require.False(t, before.Empty())

	a := newAction(&Workspace{Selection: sel}, KindNone, ModalityNone, nil)
	a.RegisterVertexSelectionChange()
	sel.Select(vec.Vec3F{X: 25, Z: 25}, 5)
	a.RegisterVertexSelectionChange()

	pre, ok := a.PreSelection()
	require.True(t, ok)
	assert.Equal(t, before, pre, "Второй вызов не должен перезаписывать снимок")

	after := sel.State()
	a.Finish()
	require.NoError(t, a.Undo(context.Background(), false))
	assert.Equal(t, before, sel.State())
	require.NoError(t, a.Undo(context.Background(), true))
	assert.Equal(t, after, sel.State())
}
