package objects

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/map-editor/internal/logging"
	"github.com/annel0/map-editor/internal/vec"
)

var (
	// ErrModelNotFound возвращается источником, если файл неизвестен
	ErrModelNotFound = errors.New("objects: model not found")
	// ErrLoaderStopped загрузчик остановлен, новые объекты не принимаются
	ErrLoaderStopped = errors.New("objects: loader stopped")
)

// Model данные модели, нужные редактору: локальные границы и дочерние ресурсы
type Model struct {
	File     string
	Bounds   Extents
	Children []string // группы WMO, текстуры и т.п.; грузятся до готовности экземпляра
}

// ModelSource получает описание модели по ссылке на файл.
// Реализация может блокироваться (чтение архива, сеть).
type ModelSource interface {
	Fetch(file string) (*Model, error)
}

// StaticSource источник моделей из заранее известного набора
type StaticSource struct {
	models map[string]*Model
	mu     sync.RWMutex
}

// NewStaticSource создаёт пустой статический источник
func NewStaticSource() *StaticSource {
	return &StaticSource{models: make(map[string]*Model)}
}

// Add регистрирует модель
func (s *StaticSource) Add(m *Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.File] = m
}

// Fetch реализует ModelSource
func (s *StaticSource) Fetch(file string) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[file]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, file)
	}
	return m, nil
}

// BoxModel удобный конструктор модели-параллелепипеда с центром в нуле
func BoxModel(file string, size vec.Vec3F, children ...string) *Model {
	half := size.Mul(0.5)
	return &Model{
		File:     file,
		Bounds:   Extents{Min: vec.Vec3F{}.Sub(half), Max: half},
		Children: children,
	}
}

type loadJob struct {
	inst     *Instance
	onLoaded func(*Instance)
}

// Loader пул воркеров, загружающих модели экземпляров асинхронно
type Loader struct {
	source  ModelSource
	jobs    chan loadJob
	workers int
	wg      sync.WaitGroup
	log     *logging.Logger

	stateMu sync.RWMutex
	stopped bool
}

// NewLoader создаёт загрузчик; Start запускает воркеры
func NewLoader(source ModelSource, workers int) *Loader {
	if workers <= 0 {
		workers = 1
	}
	return &Loader{
		source:  source,
		jobs:    make(chan loadJob, 64),
		workers: workers,
		log:     logging.GetWorldLogger(),
	}
}

// Start запускает воркеры загрузки
func (l *Loader) Start() {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
}

// Stop закрывает очередь и ждёт завершения воркеров. Повторный вызов безопасен.
func (l *Loader) Stop() {
	l.stateMu.Lock()
	if !l.stopped {
		l.stopped = true
		close(l.jobs)
	}
	l.stateMu.Unlock()
	l.wg.Wait()
}

// enqueue ставит экземпляр в очередь загрузки; onLoaded вызывается воркером
// после применения модели, до освобождения ожидающих WaitLoaded
func (l *Loader) enqueue(inst *Instance, onLoaded func(*Instance)) error {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.stopped {
		return ErrLoaderStopped
	}
	l.jobs <- loadJob{inst: inst, onLoaded: onLoaded}
	return nil
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for job := range l.jobs {
		inst := job.inst
		model, err := l.load(inst.File)
		if err != nil {
			l.log.Warn("Загрузка %s для объекта %d не удалась: %v", inst.File, inst.UID, err)
		}
		inst.finishLoad(model, err)
		if job.onLoaded != nil {
			job.onLoaded(inst)
		}
		inst.markLoaded()
	}
}

// load загружает модель и все её дочерние ресурсы
func (l *Loader) load(file string) (*Model, error) {
	model, err := l.source.Fetch(file)
	if err != nil {
		return nil, err
	}
	for _, child := range model.Children {
		if _, err := l.source.Fetch(child); err != nil {
			return model, fmt.Errorf("дочерний ресурс %s: %w", child, err)
		}
	}
	return model, nil
}
