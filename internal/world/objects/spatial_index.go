package objects

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// SpatialIndex пространственный индекс для быстрого поиска объектов по плоскости XZ
type SpatialIndex struct {
	cellSize float32
	cells    map[cellKey]*cellData
	cellsMu  sync.RWMutex
	entries  map[uint32]*indexedInstance
	entryMu  sync.RWMutex
}

// cellKey представляет ключ ячейки в пространственной сетке
type cellKey struct {
	x, z int
}

// cellData хранит данные ячейки
type cellData struct {
	instances map[uint32]*indexedInstance
}

// indexedInstance представляет индексированный объект
type indexedInstance struct {
	inst   *Instance
	cells  []cellKey
	bounds Extents
}

// NewSpatialIndex создаёт новый пространственный индекс
func NewSpatialIndex(cellSize float32) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = 533.33333 / 16 // Размер чанка по умолчанию
	}

	return &SpatialIndex{
		cellSize: cellSize,
		cells:    make(map[cellKey]*cellData),
		entries:  make(map[uint32]*indexedInstance),
	}
}

// Insert добавляет объект в индекс по его текущим границам.
// Повторная вставка того же UID сначала удаляет старую запись.
func (si *SpatialIndex) Insert(inst *Instance) {
	si.Remove(inst.UID)

	bounds := inst.Extents()
	indexed := &indexedInstance{
		inst:   inst,
		cells:  si.getCellsForBounds(bounds),
		bounds: bounds,
	}

	si.cellsMu.Lock()
	for _, key := range indexed.cells {
		cell, exists := si.cells[key]
		if !exists {
			cell = &cellData{instances: make(map[uint32]*indexedInstance)}
			si.cells[key] = cell
		}
		cell.instances[inst.UID] = indexed
	}
	si.cellsMu.Unlock()

	si.entryMu.Lock()
	si.entries[inst.UID] = indexed
	si.entryMu.Unlock()
}

// Remove удаляет объект из индекса
func (si *SpatialIndex) Remove(uid uint32) {
	si.entryMu.Lock()
	indexed, exists := si.entries[uid]
	if !exists {
		si.entryMu.Unlock()
		return
	}
	delete(si.entries, uid)
	si.entryMu.Unlock()

	si.cellsMu.Lock()
	for _, key := range indexed.cells {
		if cell, exists := si.cells[key]; exists {
			delete(cell.instances, uid)
			if len(cell.instances) == 0 {
				delete(si.cells, key)
			}
		}
	}
	si.cellsMu.Unlock()
}

// Contains проверяет наличие объекта в индексе
func (si *SpatialIndex) Contains(uid uint32) bool {
	si.entryMu.RLock()
	defer si.entryMu.RUnlock()
	_, ok := si.entries[uid]
	return ok
}

// QueryRect возвращает объекты, чьи границы пересекают прямоугольник, по возрастанию UID
func (si *SpatialIndex) QueryRect(minX, minZ, maxX, maxZ float32) []*Instance {
	query := Extents{}
	query.Min.X, query.Min.Z = minX, minZ
	query.Max.X, query.Max.Z = maxX, maxZ

	seen := make(map[uint32]struct{})
	result := make([]*Instance, 0)

	si.cellsMu.RLock()
	for _, key := range si.getCellsForBounds(query) {
		cell, exists := si.cells[key]
		if !exists {
			continue
		}
		for uid, indexed := range cell.instances {
			if _, wasSeen := seen[uid]; wasSeen {
				continue
			}
			b := indexed.bounds
			if b.Max.X < minX || b.Min.X > maxX || b.Max.Z < minZ || b.Min.Z > maxZ {
				continue
			}
			seen[uid] = struct{}{}
			result = append(result, indexed.inst)
		}
	}
	si.cellsMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result
}

// Count возвращает количество индексированных объектов
func (si *SpatialIndex) Count() int {
	si.entryMu.RLock()
	defer si.entryMu.RUnlock()
	return len(si.entries)
}

// GetStats возвращает статистику индекса
func (si *SpatialIndex) GetStats() string {
	si.cellsMu.RLock()
	cellCount := len(si.cells)
	total, maxPerCell := 0, 0
	for _, cell := range si.cells {
		n := len(cell.instances)
		total += n
		if n > maxPerCell {
			maxPerCell = n
		}
	}
	si.cellsMu.RUnlock()

	avg := 0.0
	if cellCount > 0 {
		avg = float64(total) / float64(cellCount)
	}

	return fmt.Sprintf("SpatialIndex Stats: %d objects, %d cells, avg %.2f objects/cell, max %d objects/cell",
		si.Count(), cellCount, avg, maxPerCell)
}

// getCellsForBounds возвращает ключи ячеек, которые пересекаются с границами
func (si *SpatialIndex) getCellsForBounds(b Extents) []cellKey {
	minCellX := int(math.Floor(float64(b.Min.X / si.cellSize)))
	minCellZ := int(math.Floor(float64(b.Min.Z / si.cellSize)))
	maxCellX := int(math.Floor(float64(b.Max.X / si.cellSize)))
	maxCellZ := int(math.Floor(float64(b.Max.Z / si.cellSize)))

	cells := make([]cellKey, 0, (maxCellX-minCellX+1)*(maxCellZ-minCellZ+1))
	for x := minCellX; x <= maxCellX; x++ {
		for z := minCellZ; z <= maxCellZ; z++ {
			cells = append(cells, cellKey{x: x, z: z})
		}
	}
	return cells
}
