package action

import (
	"context"
	"fmt"

	"github.com/annel0/map-editor/internal/world/objects"
)

// uidNotFound возвращается обработчиком, если снимок не найден в ожидаемом списке.
// Цепочка для такой записи прерывается без ошибки.
const uidNotFound = ^uint32(0)

// replayObjects воспроизводит журнал операций над объектами.
// Для каждого UID теги обрабатываются по порядку (redo) или в обратном порядке (undo),
// текущий UID передаётся по цепочке. Новый журнал собирается отдельно и
// подменяет старый только после обработки всех записей.
func (a *Action) replayObjects(ctx context.Context, redo bool) error {
	store := a.ws.Objects
	uids := a.ObjectUIDs()
	next := make(map[uint32][]ObjectOp, len(a.objectOps))

	var replayErr error
	for _, uid := range uids {
		ops := a.objectOps[uid]
		if replayErr != nil {
			next[uid] = ops
			continue
		}

		current := uid
		for j := range ops {
			op := ops[j]
			if !redo {
				op = ops[len(ops)-1-j]
			}

			result, err := a.replayOp(ctx, store, op, current, redo)
			if err != nil {
				replayErr = fmt.Errorf("объект %d (%s): %w", current, op, err)
				if result != uidNotFound {
					current = result
				}
				break
			}
			if result == uidNotFound {
				a.log.Warn("Действие %s: снимок объекта %d для операции %s не найден, цепочка прервана", a.id, current, op)
				break
			}
			current = result
		}

		next[current] = ops
	}

	a.objectOps = next
	return replayErr
}

func (a *Action) replayOp(ctx context.Context, store ObjectStore, op ObjectOp, uid uint32, redo bool) (uint32, error) {
	switch op {
	case OpAdded:
		if redo {
			return a.recreate(ctx, store, &a.added, uid)
		}
		store.Delete(uid)
		return uid, nil
	case OpRemoved:
		if redo {
			store.Delete(uid)
			return uid, nil
		}
		return a.recreate(ctx, store, &a.removed, uid)
	case OpTransformed:
		return a.retransform(store, uid, redo), nil
	default:
		return uidNotFound, nil
	}
}

// recreate пересоздаёт объект из пре-снимка, дожидается загрузки и
// переписывает новый UID во все списки действия
func (a *Action) recreate(ctx context.Context, store ObjectStore, track *objectTrack, uid uint32) (uint32, error) {
	snap, ok := findObject(track.pre, uid)
	if !ok {
		return uidNotFound, nil
	}

	newUID, err := store.Spawn(snap.Kind, snap.File, snap.Pose)
	if err != nil {
		return uidNotFound, err
	}
	a.renameObject(uid, newUID)

	if err := store.WaitLoaded(ctx, newUID); err != nil {
		return newUID, err
	}

	if inst, ok := store.Resolve(newUID); ok {
		store.Unindex(inst)
		inst.RecalcExtents()
		store.Index(inst)
	}
	return newUID, nil
}

// retransform применяет пре- или пост-позу; удалённый объект пропускается
func (a *Action) retransform(store ObjectStore, uid uint32, redo bool) uint32 {
	entries := a.transformed.pre
	if redo {
		entries = a.transformed.post
	}
	snap, ok := findObject(entries, uid)
	if !ok {
		return uidNotFound
	}

	inst, ok := store.Resolve(uid)
	if !ok {
		return uid
	}
	store.Unindex(inst)
	inst.SetPose(snap.Pose)
	inst.RecalcExtents()
	store.Index(inst)
	return uid
}

func (a *Action) renameObject(oldUID, newUID uint32) {
	if oldUID == newUID {
		return
	}
	a.added.rename(oldUID, newUID)
	a.removed.rename(oldUID, newUID)
	a.transformed.rename(oldUID, newUID)
}

// ObjectSnapshot возвращает пре-снимок объекта из списка категории
func (a *Action) ObjectSnapshot(kind MutationKind, uid uint32) (ObjectSnapshot, bool) {
	switch kind {
	case KindObjectAdded:
		return findObject(a.added.pre, uid)
	case KindObjectRemoved:
		return findObject(a.removed.pre, uid)
	case KindObjectTransformed:
		return findObject(a.transformed.pre, uid)
	default:
		return ObjectSnapshot{}, false
	}
}

var _ ObjectStore = (*objects.Store)(nil)
