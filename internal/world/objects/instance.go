// Package objects хранит размещённые на карте объекты (модели и WMO),
// их асинхронную загрузку и пространственный индекс.
package objects

import (
	"fmt"
	"math"
	"sync"

	"github.com/annel0/map-editor/internal/vec"
)

// Kind вид объекта; множество закрыто
type Kind uint8

const (
	KindModel Kind = iota // одиночная модель (doodad)
	KindWMO               // составной объект из групп
)

func (k Kind) String() string {
	switch k {
	case KindModel:
		return "model"
	case KindWMO:
		return "wmo"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Pose положение, ориентация (градусы, XYZ) и масштаб объекта
type Pose struct {
	Position vec.Vec3F `json:"position"`
	Rotation vec.Vec3F `json:"rotation"`
	Scale    float32   `json:"scale"`
}

// Extents ось-ориентированный ограничивающий параллелепипед
type Extents struct {
	Min vec.Vec3F `json:"min"`
	Max vec.Vec3F `json:"max"`
}

// Center возвращает центр параллелепипеда
func (e Extents) Center() vec.Vec3F {
	return e.Min.Add(e.Max).Mul(0.5)
}

// Instance размещённый на карте объект
type Instance struct {
	UID  uint32
	Kind Kind
	File string

	pose    Pose
	extents Extents
	model   *Model
	loadErr error
	done    chan struct{}
	mu      sync.RWMutex
}

func newInstance(uid uint32, kind Kind, file string, pose Pose) *Instance {
	if pose.Scale == 0 {
		pose.Scale = 1
	}
	inst := &Instance{
		UID:  uid,
		Kind: kind,
		File: file,
		pose: pose,
		done: make(chan struct{}),
	}
	inst.RecalcExtents()
	return inst
}

// Pose возвращает текущую позу
func (i *Instance) Pose() Pose {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.pose
}

// SetPose перезаписывает позу; границы нужно пересчитать отдельно
func (i *Instance) SetPose(p Pose) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pose = p
}

// Extents возвращает мировые границы объекта
func (i *Instance) Extents() Extents {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.extents
}

// Loaded сообщает, завершилась ли загрузка модели и её дочерних ресурсов
func (i *Instance) Loaded() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// LoadErr возвращает ошибку загрузки, если она была
func (i *Instance) LoadErr() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadErr
}

// Done канал закрывается по завершении загрузки (успешной или нет)
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// finishLoad применяет загруженную модель и пересчитывает границы.
// Ожидающие загрузку освобождаются отдельно через markLoaded.
func (i *Instance) finishLoad(model *Model, err error) {
	i.mu.Lock()
	i.model = model
	i.loadErr = err
	i.mu.Unlock()

	i.RecalcExtents()
}

func (i *Instance) markLoaded() {
	close(i.done)
}

// RecalcExtents пересчитывает мировые границы по локальным границам модели и позе.
// Пока модель не загружена, используется единичный куб.
func (i *Instance) RecalcExtents() {
	i.mu.Lock()
	defer i.mu.Unlock()

	local := Extents{Min: vec.Vec3F{X: -0.5, Y: -0.5, Z: -0.5}, Max: vec.Vec3F{X: 0.5, Y: 0.5, Z: 0.5}}
	if i.model != nil {
		local = i.model.Bounds
	}

	first := true
	var out Extents
	for c := 0; c < 8; c++ {
		corner := vec.Vec3F{X: local.Min.X, Y: local.Min.Y, Z: local.Min.Z}
		if c&1 != 0 {
			corner.X = local.Max.X
		}
		if c&2 != 0 {
			corner.Y = local.Max.Y
		}
		if c&4 != 0 {
			corner.Z = local.Max.Z
		}
		p := rotate(corner.Mul(i.pose.Scale), i.pose.Rotation).Add(i.pose.Position)
		if first {
			out = Extents{Min: p, Max: p}
			first = false
			continue
		}
		out.Min = out.Min.Min(p)
		out.Max = out.Max.Max(p)
	}
	i.extents = out
}

// rotate поворачивает точку на углы Эйлера (градусы) в порядке X, Y, Z
func rotate(p, deg vec.Vec3F) vec.Vec3F {
	rx := float64(deg.X) * math.Pi / 180
	ry := float64(deg.Y) * math.Pi / 180
	rz := float64(deg.Z) * math.Pi / 180

	x, y, z := float64(p.X), float64(p.Y), float64(p.Z)

	y, z = y*math.Cos(rx)-z*math.Sin(rx), y*math.Sin(rx)+z*math.Cos(rx)
	x, z = x*math.Cos(ry)+z*math.Sin(ry), -x*math.Sin(ry)+z*math.Cos(ry)
	x, y = x*math.Cos(rz)-y*math.Sin(rz), x*math.Sin(rz)+y*math.Cos(rz)

	return vec.Vec3F{X: float32(x), Y: float32(y), Z: float32(z)}
}
