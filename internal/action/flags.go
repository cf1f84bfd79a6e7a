package action

import "strings"

// MutationKind битовая маска категорий изменений, которые отслеживает действие.
// Множество закрыто и не расширяется во время работы.
type MutationKind uint32

const (
	KindNone                 MutationKind = 0
	KindTerrainHeights       MutationKind = 1 << 0
	KindAreaID               MutationKind = 1 << 1
	KindHoles                MutationKind = 1 << 2
	KindVertexColors         MutationKind = 1 << 3
	KindLiquids              MutationKind = 1 << 4
	KindTextureLayers        MutationKind = 1 << 5
	KindObjectRemoved        MutationKind = 1 << 6
	KindObjectAdded          MutationKind = 1 << 7
	KindObjectTransformed    MutationKind = 1 << 8
	KindChunkFlags           MutationKind = 1 << 9
	KindVertexSelection      MutationKind = 1 << 10
	KindChunkShadowMap       MutationKind = 1 << 11
	KindChunkDoodadExclusion MutationKind = 1 << 12
	KindChunkLayerInfo       MutationKind = 1 << 13

	// DoNotWriteHistory управляющий флаг: изменение выполняется, но в историю не попадает
	DoNotWriteHistory MutationKind = 1 << 14

	// KindAllChunk все покадровые (per-chunk) категории
	KindAllChunk = KindTerrainHeights | KindAreaID | KindHoles | KindVertexColors |
		KindLiquids | KindTextureLayers | KindChunkFlags | KindChunkShadowMap |
		KindChunkDoodadExclusion | KindChunkLayerInfo

	// KindAllObject все категории изменений объектов
	KindAllObject = KindObjectRemoved | KindObjectAdded | KindObjectTransformed
)

var kindNames = []struct {
	kind MutationKind
	name string
}{
	{KindTerrainHeights, "terrain-heights"},
	{KindAreaID, "area-id"},
	{KindHoles, "holes"},
	{KindVertexColors, "vertex-colors"},
	{KindLiquids, "liquid-layers"},
	{KindTextureLayers, "texture-layers"},
	{KindObjectRemoved, "object-removed"},
	{KindObjectAdded, "object-added"},
	{KindObjectTransformed, "object-transformed"},
	{KindChunkFlags, "chunk-flags"},
	{KindVertexSelection, "vertex-selection"},
	{KindChunkShadowMap, "chunk-shadow-map"},
	{KindChunkDoodadExclusion, "chunk-doodad-exclusion"},
	{KindChunkLayerInfo, "chunk-layer-info"},
	{DoNotWriteHistory, "do-not-write-history"},
}

// Has проверяет, что все биты other выставлены
func (k MutationKind) Has(other MutationKind) bool {
	return k&other == other
}

func (k MutationKind) String() string {
	if k == KindNone {
		return "none"
	}
	var parts []string
	for _, kn := range kindNames {
		if k&kn.kind != 0 {
			parts = append(parts, kn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Modality маска состояний устройств ввода, при которых действие остаётся открытым.
// К данным отмены отношения не имеет.
type Modality uint32

const (
	ModalityNone      Modality = 0
	ModalityShift     Modality = 1 << 0
	ModalityCtrl      Modality = 1 << 1
	ModalityAlt       Modality = 1 << 2
	ModalitySpace     Modality = 1 << 3
	ModalityLMB       Modality = 1 << 4
	ModalityRMB       Modality = 1 << 5
	ModalityMMB       Modality = 1 << 6
	ModalityNumpad    Modality = 1 << 7
	ModalityScale     Modality = 1 << 8
	ModalityRotate    Modality = 1 << 9
	ModalityTranslate Modality = 1 << 10
)

// Covers проверяет, что m содержит все биты required
func (m Modality) Covers(required Modality) bool {
	return m&required == required
}
