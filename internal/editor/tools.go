package editor

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/vec"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
)

// Brush круглая кисть на плоскости XZ
type Brush struct {
	Center   vec.Vec3F
	Radius   float32
	Strength float32
}

// falloff линейное затухание силы кисти от центра к краю
func (b Brush) falloff(x, z float32) float32 {
	if b.Radius <= 0 {
		return 0
	}
	dx, dz := x-b.Center.X, z-b.Center.Z
	d2 := dx*dx + dz*dz
	if d2 > b.Radius*b.Radius {
		return 0
	}
	return 1 - float32(math.Sqrt(float64(d2)))/b.Radius
}

// strokeModality мазок кистью остаётся открытым, пока удерживается левая кнопка
const strokeModality = action.ModalityLMB

// beginStroke закрывает действие, если удерживаемая модальность больше его не покрывает,
// и открывает (или продолжает) мазок
func (s *Session) beginStroke(flags action.MutationKind, held action.Modality) *action.Action {
	s.History.EndActionOnModalityMismatch(held)
	return s.History.BeginAction(s.ws, flags, strokeModality)
}

// beginOneShot закрывает незавершённый мазок и открывает одиночное действие
func (s *Session) beginOneShot(flags action.MutationKind) *action.Action {
	s.EndStroke()
	return s.History.BeginAction(s.ws, flags, action.ModalityNone)
}

// RaiseTerrain поднимает (Strength > 0) или опускает вершины под кистью.
// Последовательные вызовы с удержанной ЛКМ накапливаются в одном действии.
func (s *Session) RaiseTerrain(b Brush, held action.Modality) {
	act := s.beginStroke(action.KindTerrainHeights, held)
	act.SetBlockCursor(true)

	var touched []*world.Chunk
	for _, c := range s.Terrain.ChunksInRadius(b.Center, b.Radius) {
		heights := c.Heights()
		changed := false
		for i := range heights {
			f := b.falloff(heights[i].X, heights[i].Z)
			if f <= 0 {
				continue
			}
			if !changed {
				act.RegisterTerrainChange(c)
				changed = true
			}
			heights[i].Y += b.Strength * f
		}
		if changed {
			c.SetHeights(heights)
			touched = append(touched, c)
		}
	}
	for _, c := range touched {
		c.RecalcNormals()
	}
	act.SetDelta(act.Delta() + b.Strength)
}

// PaintVertexColor смешивает цвет вершин под кистью с color
func (s *Session) PaintVertexColor(b Brush, color vec.Vec3F, held action.Modality) {
	act := s.beginStroke(action.KindVertexColors, held)

	for _, c := range s.Terrain.ChunksInRadius(b.Center, b.Radius) {
		heights := c.Heights()
		colors := c.VertexColors()
		changed := false
		for i := range colors {
			f := b.falloff(heights[i].X, heights[i].Z) * b.Strength
			if f <= 0 {
				continue
			}
			if !changed {
				act.RegisterVertexColorChange(c)
				changed = true
			}
			colors[i] = colors[i].Add(color.Sub(colors[i]).Mul(clamp01(f)))
		}
		if changed {
			c.SetVertexColors(colors)
		}
	}
	act.SetDelta(act.Delta() + b.Strength)
}

// PaintTexture рисует текстуру texture под кистью. Чанки с заполненным
// набором текстур, где texture ещё нет, пропускаются.
func (s *Session) PaintTexture(b Brush, texture string, held action.Modality) {
	act := s.beginStroke(action.KindTextureLayers, held)

	const pixel = world.ChunkSize / world.AlphaMapSide
	for _, c := range s.Terrain.ChunksInRadius(b.Center, b.Radius) {
		origin := c.Heights()[0]
		ts := c.Textures()

		act.RegisterTextureChange(c)
		layer, err := ts.AddTexture(texture)
		if err != nil {
			if !errors.Is(err, world.ErrTextureSetFull) {
				s.log.Warn("Текстура %s для чанка %s: %v", texture, c.Key(), err)
			}
			continue
		}

		ts.BeginTempEdit()
		for px := 0; px < world.AlphaMapSize; px++ {
			x := origin.X + (float32(px%world.AlphaMapSide)+0.5)*pixel
			z := origin.Z + (float32(px/world.AlphaMapSide)+0.5)*pixel
			if f := b.falloff(x, z) * b.Strength; f > 0 {
				ts.PaintTemp(layer, px, clamp01(f))
			}
		}
		ts.ApplyAlphaChanges()
	}
	act.SetDelta(act.Delta() + b.Strength)
}

// SetAreaID назначает зону всем чанкам в радиусе
func (s *Session) SetAreaID(center vec.Vec3F, radius float32, areaID uint32) int {
	act := s.beginOneShot(action.KindAreaID)
	defer s.EndStroke()

	chunks := s.Terrain.ChunksInRadius(center, radius)
	for _, c := range chunks {
		act.RegisterAreaIDChange(c)
		c.SetAreaID(areaID)
	}
	return len(chunks)
}

// ToggleHole переключает дыру в ячейке 8x8 под точкой pos
func (s *Session) ToggleHole(pos vec.Vec3F) error {
	c, ok := s.Terrain.ChunkAt(pos.X, pos.Z)
	if !ok {
		return fmt.Errorf("editor: нет чанка в точке (%.1f, %.1f)", pos.X, pos.Z)
	}

	act := s.beginOneShot(action.KindHoles)
	defer s.EndStroke()

	origin := c.Heights()[0]
	col := clampInt(int((pos.X-origin.X)/world.UnitSize), 0, 7)
	row := clampInt(int((pos.Z-origin.Z)/world.UnitSize), 0, 7)

	act.RegisterHolesChange(c)
	c.SetHoles(c.Holes() ^ (1 << uint(row*8+col)))
	return nil
}

// PlaceObject размещает новый объект и записывает добавление в историю
func (s *Session) PlaceObject(kind objects.Kind, file string, pose objects.Pose) (uint32, error) {
	s.EndStroke()
	uid, err := s.Objects.Spawn(kind, file, pose)
	if err != nil {
		return 0, err
	}
	inst, _ := s.Objects.Resolve(uid)

	act := s.beginOneShot(action.KindObjectAdded)
	defer s.EndStroke()
	act.RegisterObjectAdded(inst)
	return uid, nil
}

// MoveObject задаёт объекту новую позу
func (s *Session) MoveObject(uid uint32, pose objects.Pose) error {
	inst, ok := s.Objects.Resolve(uid)
	if !ok {
		return fmt.Errorf("%w: %d", objects.ErrUnknownInstance, uid)
	}

	act := s.beginOneShot(action.KindObjectTransformed)
	defer s.EndStroke()

	act.RegisterObjectTransformed(inst)
	s.Objects.Unindex(inst)
	inst.SetPose(pose)
	inst.RecalcExtents()
	s.Objects.Index(inst)
	return nil
}

// DeleteObject удаляет объект и записывает удаление в историю
func (s *Session) DeleteObject(uid uint32) error {
	inst, ok := s.Objects.Resolve(uid)
	if !ok {
		return fmt.Errorf("%w: %d", objects.ErrUnknownInstance, uid)
	}

	act := s.beginOneShot(action.KindObjectRemoved)
	defer s.EndStroke()

	act.RegisterObjectRemoved(inst)
	s.Objects.Delete(uid)
	return nil
}

// SelectVertices выделяет вершины в круге. Без add текущее выделение сбрасывается.
func (s *Session) SelectVertices(center vec.Vec3F, radius float32, add bool) world.SelectionState {
	act := s.beginOneShot(action.KindVertexSelection)
	defer s.EndStroke()

	act.RegisterVertexSelectionChange()
	if !add {
		s.Selection.Clear()
	}
	s.Selection.Select(center, radius)
	return s.Selection.State()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
