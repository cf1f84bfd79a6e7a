package objects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownInstance возвращается, если UID не найден
var ErrUnknownInstance = errors.New("objects: unknown instance")

// Store владеет всеми размещёнными объектами.
// UID выдаются монотонно и никогда не переиспользуются.
type Store struct {
	instances map[uint32]*Instance
	nextUID   uint32
	index     *SpatialIndex
	loader    *Loader
	mu        sync.RWMutex
}

// NewStore создаёт хранилище объектов поверх загрузчика
func NewStore(loader *Loader) *Store {
	return &Store{
		instances: make(map[uint32]*Instance),
		nextUID:   1,
		index:     NewSpatialIndex(0),
		loader:    loader,
	}
}

// Spawn создаёт объект, ставит его модель в очередь загрузки и индексирует
// по предварительным границам; после загрузки модели объект переиндексируется.
// Возвращает новый UID.
func (s *Store) Spawn(kind Kind, file string, pose Pose) (uint32, error) {
	if file == "" {
		return 0, fmt.Errorf("objects: пустая ссылка на файл для %s", kind)
	}

	s.mu.Lock()
	uid := s.nextUID
	s.nextUID++
	inst := newInstance(uid, kind, file, pose)
	s.instances[uid] = inst
	s.mu.Unlock()

	if err := s.track(inst); err != nil {
		return 0, err
	}
	return uid, nil
}

// Restore размещает объект с заданным UID (загрузка из хранилища).
// Счётчик UID сдвигается за восстановленный.
func (s *Store) Restore(uid uint32, kind Kind, file string, pose Pose) (*Instance, error) {
	s.mu.Lock()
	if _, exists := s.instances[uid]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("objects: UID %d уже занят", uid)
	}
	inst := newInstance(uid, kind, file, pose)
	s.instances[uid] = inst
	if uid >= s.nextUID {
		s.nextUID = uid + 1
	}
	s.mu.Unlock()

	if err := s.track(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// track индексирует новый объект и ставит его в очередь загрузки.
// Если загрузчик остановлен, объект убирается из хранилища.
func (s *Store) track(inst *Instance) error {
	s.index.Insert(inst)
	if err := s.loader.enqueue(inst, s.reindexLoaded); err != nil {
		s.Delete(inst.UID)
		return fmt.Errorf("объект %d (%s): %w", inst.UID, inst.File, err)
	}
	return nil
}

// reindexLoaded переносит загруженный объект в ячейки индекса по границам модели.
// Удалённые и временно снятые с индекса объекты не трогаются.
func (s *Store) reindexLoaded(inst *Instance) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur, ok := s.instances[inst.UID]; !ok || cur != inst || !s.index.Contains(inst.UID) {
		return
	}
	s.index.Insert(inst)
}

// WaitLoaded блокируется до завершения загрузки объекта и его дочерних ресурсов.
// Ошибка загрузки не возвращается: экземпляр остаётся в деградированном
// состоянии и доступен через LoadErr.
func (s *Store) WaitLoaded(ctx context.Context, uid uint32) error {
	inst, ok := s.Resolve(uid)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, uid)
	}
	select {
	case <-inst.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ожидание загрузки объекта %d: %w", uid, ctx.Err())
	}
}

// Resolve возвращает живой экземпляр по UID
func (s *Store) Resolve(uid uint32) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[uid]
	return inst, ok
}

// Delete удаляет объект; возвращает false, если его уже нет
func (s *Store) Delete(uid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[uid]
	delete(s.instances, uid)
	if ok {
		s.index.Remove(uid)
	}
	return ok
}

// Index вставляет объект в пространственный индекс
func (s *Store) Index(inst *Instance) {
	s.index.Insert(inst)
}

// Unindex убирает объект из пространственного индекса
func (s *Store) Unindex(inst *Instance) {
	s.index.Remove(inst.UID)
}

// Indexed проверяет присутствие объекта в индексе
func (s *Store) Indexed(uid uint32) bool {
	return s.index.Contains(uid)
}

// Query возвращает объекты в прямоугольнике на плоскости XZ
func (s *Store) Query(minX, minZ, maxX, maxZ float32) []*Instance {
	return s.index.QueryRect(minX, minZ, maxX, maxZ)
}

// All возвращает все объекты по возрастанию UID
func (s *Store) All() []*Instance {
	s.mu.RLock()
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Len количество объектов
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// Stats возвращает статистику индекса
func (s *Store) Stats() string {
	return s.index.GetStats()
}
