package action

import (
	"context"
	"fmt"
	"sort"

	"github.com/annel0/map-editor/internal/logging"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
	"github.com/google/uuid"
)

// Action одна транзакция редактирования: пре/пост-снимки всех затронутых
// категорий и журнал операций над объектами для воспроизведения.
type Action struct {
	id       uuid.UUID
	ws       *Workspace
	flags    MutationKind
	modality Modality
	log      *logging.Logger

	heights         chunkTrack[world.HeightMap]
	areaIDs         chunkTrack[uint32]
	holes           chunkTrack[uint64]
	vertexColors    chunkTrack[world.VertexColors]
	liquids         chunkTrack[[]world.LiquidLayer]
	textures        chunkTrack[world.TextureState]
	chunkFlags      chunkTrack[uint32]
	shadowMaps      chunkTrack[world.ShadowMap]
	doodadExclusion chunkTrack[world.DoodadExclusion]
	layerInfo       chunkTrack[world.LayerInfoSet]

	added       objectTrack
	removed     objectTrack
	transformed objectTrack
	objectOps   map[uint32][]ObjectOp

	selection selectionTrack

	delta        float32
	blockCursor  bool
	postCallback func()
	finished     bool
}

func newAction(ws *Workspace, flags MutationKind, modality Modality, log *logging.Logger) *Action {
	if ws == nil {
		ws = &Workspace{}
	}
	return &Action{
		id:        uuid.New(),
		ws:        ws,
		flags:     flags,
		modality:  modality,
		log:       log,
		objectOps: make(map[uint32][]ObjectOp),
	}
}

// ID уникальный идентификатор действия
func (a *Action) ID() uuid.UUID { return a.id }

// Flags возвращает маску затронутых категорий
func (a *Action) Flags() MutationKind { return a.flags }

// Modality маска модальности, с которой действие было открыто
func (a *Action) Modality() Modality { return a.modality }

// Finished сообщает, были ли сняты пост-снимки
func (a *Action) Finished() bool { return a.finished }

// Delta накопленная величина непрерывного мазка кистью
func (a *Action) Delta() float32 { return a.delta }

// SetDelta задаёт накопленную величину мазка
func (a *Action) SetDelta(d float32) { a.delta = d }

// BlockCursor сообщает, что перемещение 3D-курсора заблокировано на время действия
func (a *Action) BlockCursor() bool { return a.blockCursor }

// SetBlockCursor блокирует/разблокирует перемещение курсора
func (a *Action) SetBlockCursor(block bool) { a.blockCursor = block }

// SetPostCallback задаёт функцию, вызываемую один раз в конце Finish
func (a *Action) SetPostCallback(fn func()) { a.postCallback = fn }

func (a *Action) canRegister(what string) bool {
	if a.finished {
		a.log.Warn("Регистрация %s в завершённом действии %s проигнорирована", what, a.id)
		return false
	}
	return true
}

// RegisterTerrainChange снимает пре-снимок высот чанка
func (a *Action) RegisterTerrainChange(c Chunk) {
	if !a.canRegister("terrain") {
		return
	}
	a.flags |= KindTerrainHeights
	a.heights.register(c, Chunk.Heights)
}

// RegisterAreaIDChange снимает пре-снимок идентификатора зоны
func (a *Action) RegisterAreaIDChange(c Chunk) {
	if !a.canRegister("area id") {
		return
	}
	a.flags |= KindAreaID
	a.areaIDs.register(c, Chunk.AreaID)
}

// RegisterHolesChange снимает пре-снимок маски дыр
func (a *Action) RegisterHolesChange(c Chunk) {
	if !a.canRegister("holes") {
		return
	}
	a.flags |= KindHoles
	a.holes.register(c, Chunk.Holes)
}

// RegisterVertexColorChange снимает пре-снимок цветов вершин
func (a *Action) RegisterVertexColorChange(c Chunk) {
	if !a.canRegister("vertex colors") {
		return
	}
	a.flags |= KindVertexColors
	a.vertexColors.register(c, Chunk.VertexColors)
}

// RegisterLiquidChange снимает пре-снимок слоёв жидкости
func (a *Action) RegisterLiquidChange(c Chunk) {
	if !a.canRegister("liquids") {
		return
	}
	a.flags |= KindLiquids
	a.liquids.register(c, Chunk.Liquids)
}

// RegisterTextureChange снимает глубокую копию текстурного набора:
// карты смешивания, временный буфер, количество текстур, их список и описания слоёв
func (a *Action) RegisterTextureChange(c Chunk) {
	if !a.canRegister("textures") {
		return
	}
	a.flags |= KindTextureLayers
	a.textures.register(c, readTextures)
}

// RegisterFlagsChange снимает пре-снимок слова флагов
func (a *Action) RegisterFlagsChange(c Chunk) {
	if !a.canRegister("flags") {
		return
	}
	a.flags |= KindChunkFlags
	a.chunkFlags.register(c, Chunk.Flags)
}

// RegisterShadowMapChange снимает пре-снимок карты теней
func (a *Action) RegisterShadowMapChange(c Chunk) {
	if !a.canRegister("shadow map") {
		return
	}
	a.flags |= KindChunkShadowMap
	a.shadowMaps.register(c, Chunk.ShadowMap)
}

// RegisterDoodadExclusionChange снимает пре-снимок маски запрета мелких объектов
func (a *Action) RegisterDoodadExclusionChange(c Chunk) {
	if !a.canRegister("doodad exclusion") {
		return
	}
	a.flags |= KindChunkDoodadExclusion
	a.doodadExclusion.register(c, Chunk.DoodadExclusion)
}

// RegisterLayerInfoChange снимает пре-снимок описаний слоёв
func (a *Action) RegisterLayerInfoChange(c Chunk) {
	if !a.canRegister("layer info") {
		return
	}
	a.flags |= KindChunkLayerInfo
	a.layerInfo.register(c, Chunk.LayerInfo)
}

// RegisterAllChunkChanges регистрирует чанк во всех покадровых категориях
func (a *Action) RegisterAllChunkChanges(c Chunk) {
	a.RegisterTerrainChange(c)
	a.RegisterAreaIDChange(c)
	a.RegisterHolesChange(c)
	a.RegisterVertexColorChange(c)
	a.RegisterLiquidChange(c)
	a.RegisterTextureChange(c)
	a.RegisterFlagsChange(c)
	a.RegisterShadowMapChange(c)
	a.RegisterDoodadExclusionChange(c)
	a.RegisterLayerInfoChange(c)
}

// RegisterObjectAdded запоминает только что созданный объект
func (a *Action) RegisterObjectAdded(inst *objects.Instance) {
	if !a.canRegister("object added") {
		return
	}
	a.flags |= KindObjectAdded
	a.registerObject(&a.added, inst, OpAdded)
}

// RegisterObjectRemoved запоминает объект перед удалением
func (a *Action) RegisterObjectRemoved(inst *objects.Instance) {
	if !a.canRegister("object removed") {
		return
	}
	a.flags |= KindObjectRemoved
	a.registerObject(&a.removed, inst, OpRemoved)
}

// RegisterObjectTransformed запоминает позу объекта перед перемещением
func (a *Action) RegisterObjectTransformed(inst *objects.Instance) {
	if !a.canRegister("object transformed") {
		return
	}
	a.flags |= KindObjectTransformed
	a.registerObject(&a.transformed, inst, OpTransformed)
}

func (a *Action) registerObject(track *objectTrack, inst *objects.Instance, op ObjectOp) {
	if track.has(inst.UID) {
		return
	}
	track.pre = append(track.pre, objectEntry{uid: inst.UID, snap: snapshotObject(inst)})
	a.objectOps[inst.UID] = append(a.objectOps[inst.UID], op)
}

// RegisterVertexSelectionChange снимает выделение вершин один раз за действие
func (a *Action) RegisterVertexSelectionChange() {
	if !a.canRegister("vertex selection") {
		return
	}
	a.flags |= KindVertexSelection
	if a.selection.registered || a.ws.Selection == nil {
		return
	}
	a.selection.registered = true
	a.selection.pre = a.ws.Selection.State()
}

// Finish снимает пост-снимки для всех зарегистрированных объектов изменений
// и вызывает post-callback. Повторный вызов ничего не делает.
func (a *Action) Finish() {
	if cb := a.finishSnapshots(); cb != nil {
		cb()
	}
}

// finishSnapshots снимает пост-снимки и возвращает post-callback, не вызывая его.
// nil, если действие уже завершено или callback не задан.
func (a *Action) finishSnapshots() func() {
	if a.finished {
		return nil
	}

	if a.flags&KindTerrainHeights != 0 {
		a.heights.finish(Chunk.Heights)
	}
	if a.flags&KindAreaID != 0 {
		a.areaIDs.finish(Chunk.AreaID)
	}
	if a.flags&KindHoles != 0 {
		a.holes.finish(Chunk.Holes)
	}
	if a.flags&KindVertexColors != 0 {
		a.vertexColors.finish(Chunk.VertexColors)
	}
	if a.flags&KindLiquids != 0 {
		a.liquids.finish(Chunk.Liquids)
	}
	if a.flags&KindTextureLayers != 0 {
		a.textures.finish(readTextures)
	}
	if a.flags&KindChunkFlags != 0 {
		a.chunkFlags.finish(Chunk.Flags)
	}
	if a.flags&KindChunkShadowMap != 0 {
		a.shadowMaps.finish(Chunk.ShadowMap)
	}
	if a.flags&KindChunkDoodadExclusion != 0 {
		a.doodadExclusion.finish(Chunk.DoodadExclusion)
	}
	if a.flags&KindChunkLayerInfo != 0 {
		a.layerInfo.finish(Chunk.LayerInfo)
	}
	if a.flags&KindObjectAdded != 0 {
		a.added.finish(a.ws.Objects)
	}
	if a.flags&KindObjectRemoved != 0 {
		a.removed.finish(a.ws.Objects)
	}
	if a.flags&KindObjectTransformed != 0 {
		a.transformed.finish(a.ws.Objects)
	}
	if a.flags&KindVertexSelection != 0 && a.selection.registered {
		a.selection.post = a.ws.Selection.State()
	}

	a.finished = true
	return a.postCallback
}

// Undo применяет пре-снимки (redo == false) или пост-снимки (redo == true).
// Ошибка возможна только при воспроизведении объектов (ожидание загрузчика).
func (a *Action) Undo(ctx context.Context, redo bool) error {
	if !a.finished {
		return ErrNotFinished
	}

	// Нормали читают высоты соседей, поэтому пересчитываются после всех записей
	var normals []Chunk

	if a.flags&KindTerrainHeights != 0 {
		a.heights.apply(redo, Chunk.SetHeights)
		normals = append(normals, a.heights.chunks()...)
	}
	if a.flags&KindVertexColors != 0 {
		a.vertexColors.apply(redo, Chunk.SetVertexColors)
		normals = append(normals, a.vertexColors.chunks()...)
	}
	recalcNormals(normals)

	if a.flags&KindAreaID != 0 {
		a.areaIDs.apply(redo, Chunk.SetAreaID)
	}
	if a.flags&KindHoles != 0 {
		a.holes.apply(redo, Chunk.SetHoles)
	}
	if a.flags&KindLiquids != 0 {
		a.liquids.apply(redo, Chunk.SetLiquids)
	}
	if a.flags&KindTextureLayers != 0 {
		a.textures.apply(redo, writeTextures)
	}
	if a.flags&KindChunkFlags != 0 {
		a.chunkFlags.apply(redo, Chunk.SetFlags)
	}
	if a.flags&KindChunkShadowMap != 0 {
		a.shadowMaps.apply(redo, Chunk.SetShadowMap)
	}
	if a.flags&KindChunkDoodadExclusion != 0 {
		a.doodadExclusion.apply(redo, Chunk.SetDoodadExclusion)
	}
	if a.flags&KindChunkLayerInfo != 0 {
		a.layerInfo.apply(redo, Chunk.SetLayerInfo)
	}

	var err error
	if a.flags&KindAllObject != 0 {
		if a.ws.Objects == nil {
			err = fmt.Errorf("объекты действия %s: %w", a.id, ErrNoWorkspace)
		} else {
			err = a.replayObjects(ctx, redo)
		}
	}

	if a.flags&KindVertexSelection != 0 && a.selection.registered {
		if redo {
			a.ws.Selection.Restore(a.selection.post)
		} else {
			a.ws.Selection.Restore(a.selection.pre)
		}
	}

	return err
}

func recalcNormals(chunks []Chunk) {
	seen := make(map[Chunk]struct{}, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		c.RecalcNormals()
	}
}

func readTextures(c Chunk) world.TextureState {
	return c.Textures().State()
}

// writeTextures передаёт набору копию снимка, чтобы снимок оставался неизменным
// между повторными отменами, и переприменяет смешивание
func writeTextures(c Chunk, s world.TextureState) {
	c.Textures().Restore(s.Clone())
}

// ObjectOps возвращает копию журнала операций над объектами
func (a *Action) ObjectOps() map[uint32][]ObjectOp {
	out := make(map[uint32][]ObjectOp, len(a.objectOps))
	for uid, ops := range a.objectOps {
		out[uid] = append([]ObjectOp(nil), ops...)
	}
	return out
}

// ObjectUIDs возвращает текущие ключи журнала по возрастанию
func (a *Action) ObjectUIDs() []uint32 {
	uids := make([]uint32, 0, len(a.objectOps))
	for uid := range a.objectOps {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

// PreHeights возвращает пре-снимок высот чанка, если он зарегистрирован
func (a *Action) PreHeights(c Chunk) (world.HeightMap, bool) {
	for _, e := range a.heights.pre {
		if e.chunk == c {
			return e.value, true
		}
	}
	return world.HeightMap{}, false
}

// RegisteredChunks количество чанков в пре-списке категории
func (a *Action) RegisteredChunks(kind MutationKind) int {
	switch kind {
	case KindTerrainHeights:
		return len(a.heights.pre)
	case KindAreaID:
		return len(a.areaIDs.pre)
	case KindHoles:
		return len(a.holes.pre)
	case KindVertexColors:
		return len(a.vertexColors.pre)
	case KindLiquids:
		return len(a.liquids.pre)
	case KindTextureLayers:
		return len(a.textures.pre)
	case KindChunkFlags:
		return len(a.chunkFlags.pre)
	case KindChunkShadowMap:
		return len(a.shadowMaps.pre)
	case KindChunkDoodadExclusion:
		return len(a.doodadExclusion.pre)
	case KindChunkLayerInfo:
		return len(a.layerInfo.pre)
	case KindObjectAdded:
		return len(a.added.pre)
	case KindObjectRemoved:
		return len(a.removed.pre)
	case KindObjectTransformed:
		return len(a.transformed.pre)
	default:
		return 0
	}
}

// PreSelection возвращает пре-снимок выделения вершин
func (a *Action) PreSelection() (world.SelectionState, bool) {
	return a.selection.pre.Clone(), a.selection.registered
}
