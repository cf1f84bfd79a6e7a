package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации редактора.
type Config struct {
	Editor    EditorConfig    `yaml:"editor"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EditorConfig параметры истории действий и загрузчика объектов
type EditorConfig struct {
	HistoryLimit  int   `yaml:"history_limit"`
	LoadTimeoutMs int   `yaml:"load_timeout_ms"`
	LoaderWorkers int   `yaml:"loader_workers"`
	Seed          int64 `yaml:"seed"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	Compress bool   `yaml:"compress"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	// Components пороги отдельных компонентов (actions, editor, world, storage, eventbus)
	Components map[string]ComponentLogging `yaml:"components"`
}

// ComponentLogging пороги одного компонента; пустое значение берёт общий порог
type ComponentLogging struct {
	Console string `yaml:"console"`
	File    string `yaml:"file"`
}

// GetHistoryLimit возвращает ёмкость истории с поддержкой fallback значений
func (e *EditorConfig) GetHistoryLimit() int {
	return getIntWithEnvFallback(e.HistoryLimit, "EDITOR_HISTORY_LIMIT", 30)
}

// GetLoadTimeout возвращает таймаут ожидания загрузчика; 0 — ждать бесконечно
func (e *EditorConfig) GetLoadTimeout() time.Duration {
	ms := getIntWithEnvFallback(e.LoadTimeoutMs, "EDITOR_LOAD_TIMEOUT_MS", 0)
	return time.Duration(ms) * time.Millisecond
}

// GetLoaderWorkers возвращает количество воркеров загрузчика
func (e *EditorConfig) GetLoaderWorkers() int {
	return getIntWithEnvFallback(e.LoaderWorkers, "EDITOR_LOADER_WORKERS", 2)
}

// GetPath возвращает путь к хранилищу мира
func (s *StorageConfig) GetPath() string {
	return getStringWithEnvFallback(s.Path, "EDITOR_STORAGE_PATH", "data")
}

// GetAddr возвращает адрес Prometheus эндпоинта
func (m *MetricsConfig) GetAddr() string {
	return getStringWithEnvFallback(m.Addr, "EDITOR_METRICS_ADDR", ":2112")
}

// GetRetention возвращает время хранения событий в стриме
func (e *EventBusConfig) GetRetention() time.Duration {
	if e.Retention <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(e.Retention) * time.Hour
}

// GetBuffer возвращает размер буфера in-memory шины
func (e *EventBusConfig) GetBuffer() int {
	if e.Buffer <= 0 {
		return 256
	}
	return e.Buffer
}

// GetServiceName возвращает имя сервиса для OpenTelemetry
func (t *TelemetryConfig) GetServiceName() string {
	if t.ServiceName == "" {
		return "map-editor"
	}
	return t.ServiceName
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Default возвращает конфигурацию без файла: все значения берутся из env или по умолчанию
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Compress: true},
		Logging: LoggingConfig{ConsoleLevel: "info", FileLevel: "trace"},
	}
}

// Validate проверяет явно заданные значения
func (c *Config) Validate() error {
	if c.Editor.HistoryLimit < 0 {
		return fmt.Errorf("editor.history_limit должен быть положительным, получено %d", c.Editor.HistoryLimit)
	}
	if c.Editor.LoadTimeoutMs < 0 {
		return fmt.Errorf("editor.load_timeout_ms не может быть отрицательным, получено %d", c.Editor.LoadTimeoutMs)
	}
	if c.Editor.LoaderWorkers < 0 {
		return fmt.Errorf("editor.loader_workers не может быть отрицательным, получено %d", c.Editor.LoaderWorkers)
	}
	return nil
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV EDITOR_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("EDITOR_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
