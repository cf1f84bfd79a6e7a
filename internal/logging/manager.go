package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Компоненты редактора
const (
	ComponentActions  = "actions"
	ComponentEditor   = "editor"
	ComponentWorld    = "world"
	ComponentStorage  = "storage"
	ComponentEventBus = "eventbus"
)

var knownComponents = map[string]bool{
	ComponentActions:  true,
	ComponentEditor:   true,
	ComponentWorld:    true,
	ComponentStorage:  true,
	ComponentEventBus: true,
}

// Levels пороги консоли и файла для одного компонента
type Levels struct {
	Console LogLevel
	File    LogLevel
}

// LoggerManager выдаёт логгеры компонентов и хранит переопределённые пороги.
// Порог, заданный до создания логгера, применяется при его создании
// и переживает CloseAll.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
	levels  map[string]Levels
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// NewLoggerManager создаёт пустой менеджер
func NewLoggerManager() *LoggerManager {
	return &LoggerManager{
		loggers: make(map[string]*Logger),
		levels:  make(map[string]Levels),
	}
}

// GetLoggerManager возвращает менеджер процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = NewLoggerManager()
	})
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	if lv, ok := lm.levels[component]; ok {
		l.setLevels(lv)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но при ошибке файла пишет только в консоль
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	fallback := &Logger{
		component:       component,
		consoleLogger:   defaultLogger.consoleLogger,
		minConsoleLevel: INFO,
		minFileLevel:    ERROR,
	}
	lm.mu.Lock()
	if lv, ok := lm.levels[component]; ok {
		fallback.setLevels(lv)
	}
	lm.mu.Unlock()
	fallback.Warn("Файловый лог недоступен: %v", err)
	return fallback
}

// SetLogLevel переопределяет пороги компонента, в том числе ещё не созданного
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	if component == "" {
		return errors.New("logging: пустое имя компонента")
	}
	lv := Levels{Console: consoleLevel, File: fileLevel}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.levels[component] = lv
	if l, ok := lm.loggers[component]; ok {
		l.setLevels(lv)
	}
	return nil
}

// ApplyLevels задаёт пороги нескольким компонентам редактора сразу.
// Неизвестные компоненты отклоняются целиком, до применения.
func (lm *LoggerManager) ApplyLevels(levels map[string]Levels) error {
	var unknown []string
	for name := range levels {
		if !knownComponents[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("logging: неизвестные компоненты %v", unknown)
	}
	for name, lv := range levels {
		if err := lm.SetLogLevel(name, lv.Console, lv.File); err != nil {
			return err
		}
	}
	return nil
}

// LevelsOf возвращает действующие пороги компонента
func (lm *LoggerManager) LevelsOf(component string) Levels {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lv, ok := lm.levels[component]; ok {
		return lv
	}
	opts := currentOptions()
	return Levels{Console: opts.ConsoleLevel, File: opts.FileLevel}
}

// CloseAll закрывает все логгеры; переопределённые пороги сохраняются
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// ListComponents отсортированный список созданных логгеров
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.Lock()
	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	lm.mu.Unlock()

	sort.Strings(components)
	return components
}

// GetComponentLogger возвращает логгер компонента
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

// ApplyComponentLevels задаёт пороги компонентам менеджера процесса
func ApplyComponentLevels(levels map[string]Levels) error {
	return GetLoggerManager().ApplyLevels(levels)
}

func GetActionsLogger() *Logger  { return GetComponentLogger(ComponentActions) }
func GetStorageLogger() *Logger  { return GetComponentLogger(ComponentStorage) }
func GetEditorLogger() *Logger   { return GetComponentLogger(ComponentEditor) }
func GetWorldLogger() *Logger    { return GetComponentLogger(ComponentWorld) }
func GetEventBusLogger() *Logger { return GetComponentLogger(ComponentEventBus) }
