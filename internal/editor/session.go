package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/logging"
	"github.com/annel0/map-editor/internal/storage"
	"github.com/annel0/map-editor/internal/vec"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
)

// ErrNoStorage возвращается при сохранении/загрузке без подключённого хранилища
var ErrNoStorage = errors.New("editor: storage is not configured")

// Options параметры сессии редактора
type Options struct {
	Seed          int64               // Сид генератора новых тайлов; 0 — плоские тайлы
	LoaderWorkers int                 // Воркеры загрузчика моделей
	Models        objects.ModelSource // Источник моделей; nil — пустой StaticSource
	Storage       *storage.WorldStorage
	History       []action.Option
}

// Session корень состояния редактора: террейн, объекты, выделение и история.
// Инструменты получают менеджер истории через сессию, а не через глобальное состояние.
type Session struct {
	Terrain   *world.Terrain
	Objects   *objects.Store
	Selection *world.VertexSelection
	History   *action.Manager

	loader  *objects.Loader
	storage *storage.WorldStorage
	ws      *action.Workspace
	log     *logging.Logger
}

// NewSession создаёт сессию и запускает загрузчик моделей
func NewSession(opts Options) *Session {
	var generator *world.TerrainGenerator
	if opts.Seed != 0 {
		generator = world.NewTerrainGenerator(opts.Seed)
	}
	models := opts.Models
	if models == nil {
		models = objects.NewStaticSource()
	}

	terrain := world.NewTerrain(generator)
	loader := objects.NewLoader(models, opts.LoaderWorkers)
	loader.Start()

	s := &Session{
		Terrain:   terrain,
		Objects:   objects.NewStore(loader),
		Selection: world.NewVertexSelection(terrain),
		History:   action.NewManager(opts.History...),
		loader:    loader,
		storage:   opts.Storage,
		log:       logging.GetEditorLogger(),
	}
	s.ws = &action.Workspace{Objects: s.Objects, Selection: s.Selection}
	return s
}

// Close закрывает открытое действие и останавливает загрузчик.
// Хранилище принадлежит вызывающему и не закрывается.
func (s *Session) Close() {
	s.EndStroke()
	s.loader.Stop()
}

// Workspace коллабораторы, передаваемые в каждое действие сессии
func (s *Session) Workspace() *action.Workspace {
	return s.ws
}

// LoadTile загружает (или генерирует) тайл
func (s *Session) LoadTile(tile vec.Vec2) int {
	created := s.Terrain.LoadTile(tile)
	s.log.Debug("Тайл %v: создано %d чанков", tile, len(created))
	return len(created)
}

// EndStroke закрывает незавершённое действие, если оно есть
func (s *Session) EndStroke() {
	if s.History.CurrentAction() == nil {
		return
	}
	if err := s.History.EndAction(); err != nil && !errors.Is(err, action.ErrNoOpenAction) {
		s.log.Warn("Закрытие действия: %v", err)
	}
}

// Undo закрывает мазок и отменяет последнее действие
func (s *Session) Undo(ctx context.Context) error {
	s.EndStroke()
	return s.History.Undo(ctx)
}

// Redo закрывает мазок и повторяет отменённое действие
func (s *Session) Redo(ctx context.Context) error {
	s.EndStroke()
	return s.History.Redo(ctx)
}

// GoTo переводит историю к действию с индексом index (-1 — всё отменено)
func (s *Session) GoTo(ctx context.Context, index int) error {
	s.EndStroke()
	return s.History.SetCurrentAction(ctx, index)
}

// Save записывает все чанки и объекты в хранилище и очищает историю
func (s *Session) Save() error {
	if s.storage == nil {
		return ErrNoStorage
	}
	s.EndStroke()

	chunks := s.Terrain.Chunks()
	for _, c := range chunks {
		if err := s.storage.SaveChunk(c); err != nil {
			return fmt.Errorf("сохранение чанка %s: %w", c.Key(), err)
		}
	}
	insts := s.Objects.All()
	if err := s.storage.ReplaceObjects(insts); err != nil {
		return fmt.Errorf("сохранение объектов: %w", err)
	}
	if err := s.History.Purge(); err != nil {
		return err
	}

	s.log.Info("Сохранено: %d чанков, %d объектов", len(chunks), len(insts))
	return nil
}

// Load восстанавливает чанки и объекты из хранилища.
// Ранее загруженные чанки с теми же ключами заменяются; история очищается.
func (s *Session) Load(ctx context.Context) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	s.EndStroke()

	keys, err := s.storage.ChunkKeys()
	if err != nil {
		return err
	}
	loaded := make([]*world.Chunk, 0, len(keys))
	for _, key := range keys {
		rec, found, err := s.storage.LoadChunk(key)
		if err != nil {
			return fmt.Errorf("загрузка чанка %s: %w", key, err)
		}
		if !found {
			continue
		}
		c := world.NewChunk(key)
		rec.Apply(c)
		s.Terrain.AddChunk(c)
		loaded = append(loaded, c)
	}
	for _, c := range loaded {
		c.RecalcNormals()
		c.ClearDirty()
	}

	records, err := s.storage.LoadObjects()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, exists := s.Objects.Resolve(rec.UID); exists {
			s.Objects.Delete(rec.UID)
		}
		if _, err := s.Objects.Restore(rec.UID, rec.Kind, rec.File, rec.Pose); err != nil {
			return err
		}
	}
	for _, rec := range records {
		if err := s.Objects.WaitLoaded(ctx, rec.UID); err != nil {
			return err
		}
		s.reindex(rec.UID)
	}

	if err := s.History.Purge(); err != nil {
		return err
	}
	s.log.Info("Загружено: %d чанков, %d объектов", len(loaded), len(records))
	return nil
}

// reindex пересчитывает границы загруженного объекта и обновляет индекс
func (s *Session) reindex(uid uint32) {
	inst, ok := s.Objects.Resolve(uid)
	if !ok {
		return
	}
	s.Objects.Unindex(inst)
	inst.RecalcExtents()
	s.Objects.Index(inst)
}
