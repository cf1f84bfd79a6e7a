package action

import (
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
)

// chunkEntry пара (чанк, копия данных)
type chunkEntry[T any] struct {
	chunk Chunk
	value T
}

// chunkTrack пре- и пост-снимки одной категории, в порядке первой регистрации
type chunkTrack[T any] struct {
	pre  []chunkEntry[T]
	post []chunkEntry[T]
}

func (t *chunkTrack[T]) has(c Chunk) bool {
	for _, e := range t.pre {
		if e.chunk == c {
			return true
		}
	}
	return false
}

// register снимает пре-снимок при первой регистрации; повторная ничего не делает
func (t *chunkTrack[T]) register(c Chunk, read func(Chunk) T) bool {
	if t.has(c) {
		return false
	}
	t.pre = append(t.pre, chunkEntry[T]{chunk: c, value: read(c)})
	return true
}

// finish снимает пост-снимки для тех же чанков в том же порядке
func (t *chunkTrack[T]) finish(read func(Chunk) T) {
	t.post = make([]chunkEntry[T], 0, len(t.pre))
	for _, e := range t.pre {
		t.post = append(t.post, chunkEntry[T]{chunk: e.chunk, value: read(e.chunk)})
	}
}

// apply записывает пре- или пост-снимки обратно в чанки
func (t *chunkTrack[T]) apply(redo bool, write func(Chunk, T)) {
	entries := t.pre
	if redo {
		entries = t.post
	}
	for _, e := range entries {
		write(e.chunk, e.value)
	}
}

func (t *chunkTrack[T]) chunks() []Chunk {
	out := make([]Chunk, 0, len(t.pre))
	for _, e := range t.pre {
		out = append(out, e.chunk)
	}
	return out
}

// ObjectSnapshot копия данных объекта, достаточная для его пересоздания
type ObjectSnapshot struct {
	File string
	Kind objects.Kind
	Pose objects.Pose
}

func snapshotObject(inst *objects.Instance) ObjectSnapshot {
	return ObjectSnapshot{File: inst.File, Kind: inst.Kind, Pose: inst.Pose()}
}

type objectEntry struct {
	uid  uint32
	snap ObjectSnapshot
}

// objectTrack пре- и пост-снимки объектов по их текущему UID
type objectTrack struct {
	pre  []objectEntry
	post []objectEntry
}

func (t *objectTrack) has(uid uint32) bool {
	_, ok := findObject(t.pre, uid)
	return ok
}

func findObject(entries []objectEntry, uid uint32) (ObjectSnapshot, bool) {
	for _, e := range entries {
		if e.uid == uid {
			return e.snap, true
		}
	}
	return ObjectSnapshot{}, false
}

// finish снимает пост-снимки. Если объект уже не существует (удалён позже
// в этом же действии), копируются пре-значения.
func (t *objectTrack) finish(store ObjectStore) {
	t.post = make([]objectEntry, 0, len(t.pre))
	for _, e := range t.pre {
		snap := e.snap
		if store != nil {
			if inst, ok := store.Resolve(e.uid); ok {
				snap = snapshotObject(inst)
			}
		}
		t.post = append(t.post, objectEntry{uid: e.uid, snap: snap})
	}
}

// rename заменяет старый UID новым во всех записях
func (t *objectTrack) rename(oldUID, newUID uint32) {
	for i := range t.pre {
		if t.pre[i].uid == oldUID {
			t.pre[i].uid = newUID
		}
	}
	for i := range t.post {
		if t.post[i].uid == oldUID {
			t.post[i].uid = newUID
		}
	}
}

// ObjectOp тег операции над объектом в журнале действия
type ObjectOp uint8

const (
	OpAdded ObjectOp = iota
	OpRemoved
	OpTransformed
)

func (op ObjectOp) String() string {
	switch op {
	case OpAdded:
		return "added"
	case OpRemoved:
		return "removed"
	case OpTransformed:
		return "transformed"
	default:
		return "unknown"
	}
}

// selectionTrack снимки выделения вершин: одна запись на действие
type selectionTrack struct {
	registered bool
	pre        world.SelectionState
	post       world.SelectionState
}
