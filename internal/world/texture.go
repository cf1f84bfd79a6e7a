package world

import (
	"errors"
	"fmt"
	"sync"
)

const (
	AlphaMapSide = 64
	AlphaMapSize = AlphaMapSide * AlphaMapSide
)

// ErrTextureSetFull возвращается при попытке добавить пятую текстуру
var ErrTextureSetFull = errors.New("world: texture set is full")

// AlphaMap карта смешивания одного слоя (слои 1..3; слой 0 — база)
type AlphaMap [AlphaMapSize]uint8

// TextureState полное состояние текстурного набора.
// Все срезы принадлежат значению и не разделяются с живым набором.
type TextureState struct {
	Textures  []string     `json:"textures"`
	AlphaMaps []AlphaMap   `json:"alpha_maps"`           // len = len(Textures)-1, минимум 0
	TempAlpha []float32    `json:"temp_alpha,omitempty"` // веса слоёв во время мазка кистью, nil если нет
	LayerInfo LayerInfoSet `json:"layer_info"`
}

// Count количество активных текстур
func (s TextureState) Count() int {
	return len(s.Textures)
}

// Clone возвращает глубокую копию
func (s TextureState) Clone() TextureState {
	out := TextureState{LayerInfo: s.LayerInfo}
	if s.Textures != nil {
		out.Textures = append([]string(nil), s.Textures...)
	}
	if s.AlphaMaps != nil {
		out.AlphaMaps = make([]AlphaMap, len(s.AlphaMaps))
		copy(out.AlphaMaps, s.AlphaMaps)
	}
	if s.TempAlpha != nil {
		out.TempAlpha = append([]float32(nil), s.TempAlpha...)
	}
	return out
}

// TextureSet текстуры, привязанные к чанку, и их карты смешивания
type TextureSet struct {
	owner     *Chunk
	textures  []string
	alphamaps [MaxTextureLayers - 1]*AlphaMap
	tmpEdit   []float32 // MaxTextureLayers весов на пиксель
	mu        sync.RWMutex
}

func newTextureSet(owner *Chunk) *TextureSet {
	return &TextureSet{owner: owner}
}

// Count количество активных текстур
func (ts *TextureSet) Count() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.textures)
}

// Textures возвращает копию упорядоченного списка текстур
func (ts *TextureSet) Textures() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]string(nil), ts.textures...)
}

// State возвращает глубокую копию текущего состояния
func (ts *TextureSet) State() TextureState {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	state := TextureState{
		Textures:  append([]string(nil), ts.textures...),
		AlphaMaps: make([]AlphaMap, 0, MaxTextureLayers-1),
	}
	for i := 1; i < len(ts.textures); i++ {
		if am := ts.alphamaps[i-1]; am != nil {
			state.AlphaMaps = append(state.AlphaMaps, *am)
		} else {
			state.AlphaMaps = append(state.AlphaMaps, AlphaMap{})
		}
	}
	if ts.tmpEdit != nil {
		state.TempAlpha = append([]float32(nil), ts.tmpEdit...)
	}
	if ts.owner != nil {
		state.LayerInfo = ts.owner.LayerInfo()
	}
	return state
}

// Restore заменяет состояние набора; срезы state переходят во владение набора
func (ts *TextureSet) Restore(state TextureState) {
	ts.mu.Lock()
	ts.textures = state.Textures
	ts.alphamaps = [MaxTextureLayers - 1]*AlphaMap{}
	for i := range state.AlphaMaps {
		if i >= len(ts.alphamaps) {
			break
		}
		am := state.AlphaMaps[i]
		ts.alphamaps[i] = &am
	}
	ts.tmpEdit = state.TempAlpha
	ts.mu.Unlock()

	if ts.owner != nil {
		ts.owner.SetLayerInfo(state.LayerInfo)
	}
	ts.MarkDirty()
}

// AddTexture добавляет текстуру и возвращает индекс её слоя.
// Если текстура уже есть в наборе, возвращается существующий индекс.
func (ts *TextureSet) AddTexture(name string) (int, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for i, t := range ts.textures {
		if t == name {
			return i, nil
		}
	}
	if len(ts.textures) >= MaxTextureLayers {
		return -1, fmt.Errorf("%w: %s", ErrTextureSetFull, name)
	}

	ts.textures = append(ts.textures, name)
	layer := len(ts.textures) - 1
	if layer > 0 {
		ts.alphamaps[layer-1] = &AlphaMap{}
	}
	if ts.tmpEdit != nil {
		// Временный буфер уже открыт: новый слой начинается с нулевого веса
		for px := 0; px < AlphaMapSize; px++ {
			ts.tmpEdit[px*MaxTextureLayers+layer] = 0
		}
	}
	return layer, nil
}

// Alpha возвращает значение альфы слоя layer (1..3) в пикселе px
func (ts *TextureSet) Alpha(layer, px int) uint8 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if layer <= 0 || layer > len(ts.alphamaps) || ts.alphamaps[layer-1] == nil {
		return 0
	}
	return ts.alphamaps[layer-1][px]
}

// TempEditActive сообщает, открыт ли временный буфер редактирования
func (ts *TextureSet) TempEditActive() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.tmpEdit != nil
}

// BeginTempEdit создаёт временный буфер весов из текущих карт смешивания
func (ts *TextureSet) BeginTempEdit() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tmpEdit != nil {
		return
	}
	ts.tmpEdit = make([]float32, AlphaMapSize*MaxTextureLayers)
	for px := 0; px < AlphaMapSize; px++ {
		base := float32(1)
		for layer := 1; layer < len(ts.textures); layer++ {
			a := float32(0)
			if am := ts.alphamaps[layer-1]; am != nil {
				a = float32(am[px]) / 255
			}
			ts.tmpEdit[px*MaxTextureLayers+layer] = a
			base -= a
		}
		if base < 0 {
			base = 0
		}
		ts.tmpEdit[px*MaxTextureLayers] = base
	}
}

// PaintTemp смешивает вес слоя в пикселе px с силой strength (0..1)
func (ts *TextureSet) PaintTemp(layer, px int, strength float32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.tmpEdit == nil || layer < 0 || layer >= MaxTextureLayers {
		return
	}
	w := ts.tmpEdit[px*MaxTextureLayers : (px+1)*MaxTextureLayers]
	for i := range w {
		if i == layer {
			w[i] += (1 - w[i]) * strength
		} else {
			w[i] -= w[i] * strength
		}
	}
}

// ApplyAlphaChanges переносит временный буфер в карты смешивания и закрывает его
func (ts *TextureSet) ApplyAlphaChanges() {
	ts.mu.Lock()
	if ts.tmpEdit != nil {
		for px := 0; px < AlphaMapSize; px++ {
			for layer := 1; layer < len(ts.textures); layer++ {
				if ts.alphamaps[layer-1] == nil {
					ts.alphamaps[layer-1] = &AlphaMap{}
				}
				v := ts.tmpEdit[px*MaxTextureLayers+layer]
				if v < 0 {
					v = 0
				}
				if v > 1 {
					v = 1
				}
				ts.alphamaps[layer-1][px] = uint8(v*255 + 0.5)
			}
		}
		ts.tmpEdit = nil
	}
	ts.mu.Unlock()

	ts.MarkDirty()
}

// MarkDirty помечает текстуры чанка к повторному смешиванию
func (ts *TextureSet) MarkDirty() {
	if ts.owner == nil {
		return
	}
	ts.owner.Mu.Lock()
	ts.owner.markDirty(DirtyTextures)
	ts.owner.Mu.Unlock()
}
