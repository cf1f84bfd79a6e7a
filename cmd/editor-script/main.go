package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/config"
	"github.com/annel0/map-editor/internal/editor"
	"github.com/annel0/map-editor/internal/eventbus"
	"github.com/annel0/map-editor/internal/logging"
	"github.com/annel0/map-editor/internal/observability"
	"github.com/annel0/map-editor/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configPath = flag.String("config", "", "Путь к YAML конфигурации (или EDITOR_CONFIG)")
		scriptPath = flag.String("script", "", "Путь к YAML сценарию правок")
		noStorage  = flag.Bool("no-storage", false, "Работать без хранилища (save/load недоступны)")
	)
	flag.Parse()

	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "usage: editor-script -script edits.yaml [-config editor.yaml]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logging.Configure(logging.Options{
		Dir:          cfg.Logging.Dir,
		ConsoleLevel: logging.ParseLevel(cfg.Logging.ConsoleLevel),
		FileLevel:    logging.ParseLevel(cfg.Logging.FileLevel),
	})
	if err := logging.ApplyComponentLevels(componentLevels(cfg.Logging)); err != nil {
		log.Fatalf("Ошибка настройки логирования: %v", err)
	}
	if err := logging.InitDefaultLogger(logging.ComponentEditor); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *scriptPath, !*noStorage); err != nil {
		logging.Error("%v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, scriptPath string, withStorage bool) error {
	script, err := editor.LoadScript(scriptPath)
	if err != nil {
		return err
	}

	// === ТРАССИРОВКА ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: cfg.Telemetry.GetServiceName(),
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			return fmt.Errorf("инициализация OpenTelemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logging.Warn("Остановка OpenTelemetry: %v", err)
			}
		}()
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	if sub, err := eventbus.StartLoggingListener(bus); err == nil {
		defer sub.Unsubscribe()
	}

	// === МЕТРИКИ ===
	var metrics *action.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = action.NewMetrics(reg)
		exporter := eventbus.NewMetricsExporter(bus, reg)
		exporter.Start(time.Second)
		defer exporter.Stop()

		srv := eventbus.ServeMetrics(cfg.Metrics.GetAddr(), reg)
		defer srv.Close()
	}

	// === ХРАНИЛИЩЕ ===
	var store *storage.WorldStorage
	if withStorage {
		store, err = storage.NewWorldStorage(storage.Options{
			Path:     cfg.Storage.GetPath(),
			InMemory: cfg.Storage.InMemory,
			Compress: cfg.Storage.Compress,
		})
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// === СЕССИЯ ===
	historyOpts := []action.Option{
		action.WithLimit(cfg.Editor.GetHistoryLimit()),
		action.WithLoadTimeout(cfg.Editor.GetLoadTimeout()),
		action.WithLogger(logging.GetActionsLogger()),
	}
	if metrics != nil {
		historyOpts = append(historyOpts, action.WithMetrics(metrics))
	}

	session := editor.NewSession(editor.Options{
		Seed:          cfg.Editor.Seed,
		LoaderWorkers: cfg.Editor.GetLoaderWorkers(),
		Models:        script.ModelSource(),
		Storage:       store,
		History:       historyOpts,
	})
	defer session.Close()

	source := "editor-" + uuid.NewString()[:8]
	detach := eventbus.NewHistoryPublisher(bus, source).Attach(session.History)
	defer detach()

	logging.Info("Сценарий %s: %d шагов, история до %d действий", scriptPath, len(script.Steps), session.History.Limit())

	failed := 0
	editor.NewRunner(session).Run(ctx, script, func(r editor.StepResult) {
		if r.Err != nil {
			failed++
		}
		fmt.Println(r)
	})

	if failed > 0 {
		return fmt.Errorf("сценарий завершён с ошибками: %d", failed)
	}
	logging.Info("Сценарий выполнен")
	return nil
}

// componentLevels переводит пороги компонентов из конфигурации;
// пустой порог наследует общий
func componentLevels(cfg config.LoggingConfig) map[string]logging.Levels {
	levels := make(map[string]logging.Levels, len(cfg.Components))
	for name, c := range cfg.Components {
		lv := logging.Levels{
			Console: logging.ParseLevel(cfg.ConsoleLevel),
			File:    logging.ParseLevel(cfg.FileLevel),
		}
		if c.Console != "" {
			lv.Console = logging.ParseLevel(c.Console)
		}
		if c.File != "" {
			lv.File = logging.ParseLevel(c.File)
		}
		levels[name] = lv
	}
	return levels
}

// openBus подключает JetStream, если задан URL, иначе in-memory шину
func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(cfg.GetBuffer()), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, cfg.GetRetention())
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS %s: %w", cfg.URL, err)
	}
	logging.Info("События истории публикуются в JetStream %s", cfg.URL)
	return bus, nil
}
