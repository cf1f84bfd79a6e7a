package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/map-editor/internal/logging"
	"github.com/annel0/map-editor/internal/world"
	"github.com/annel0/map-editor/internal/world/objects"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

// ErrNotReady возвращается после Close
var ErrNotReady = errors.New("storage: хранилище не готово")

const (
	chunkPrefix  = "chunk:"
	objectPrefix = "object:"

	// Первый байт значения: формат записи
	formatJSON byte = 'j'
	formatZstd byte = 'z'
)

// Options параметры открытия хранилища
type Options struct {
	Path     string // каталог данных; внутри создаётся подкаталог world
	InMemory bool   // без диска (тесты, пробные прогоны)
	Compress bool   // сжимать записи zstd
}

// WorldStorage представляет собой хранилище данных карты
type WorldStorage struct {
	db       *badger.DB
	dbPath   string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	log      *logging.Logger
	mutex    sync.RWMutex
	isReady  bool
}

// ChunkRecord сохраняемое состояние чанка
type ChunkRecord struct {
	Key             world.ChunkKey        `json:"key"`
	Heights         world.HeightMap       `json:"heights"`
	VertexColors    *world.VertexColors   `json:"vertex_colors,omitempty"`
	Holes           uint64                `json:"holes"`
	AreaID          uint32                `json:"area_id"`
	Flags           uint32                `json:"flags"`
	ShadowMap       world.ShadowMap       `json:"shadow_map"`
	DoodadExclusion world.DoodadExclusion `json:"doodad_exclusion"`
	Liquids         []world.LiquidLayer   `json:"liquids,omitempty"`
	Textures        world.TextureState    `json:"textures"`
}

// ObjectRecord сохраняемое состояние объекта
type ObjectRecord struct {
	UID  uint32       `json:"uid"`
	Kind objects.Kind `json:"kind"`
	File string       `json:"file"`
	Pose objects.Pose `json:"pose"`
}

// NewWorldStorage создает новое хранилище карты
func NewWorldStorage(opts Options) (*WorldStorage, error) {
	var bopts badger.Options
	dbPath := ""
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath = filepath.Join(opts.Path, "world")
		bopts = badger.DefaultOptions(dbPath)
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	ws := &WorldStorage{
		db:       db,
		dbPath:   dbPath,
		compress: opts.Compress,
		log:      logging.GetStorageLogger(),
		isReady:  true,
	}

	ws.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	ws.decoder, err = zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}

	if opts.InMemory {
		ws.log.Info("Хранилище открыто в памяти (сжатие: %v)", opts.Compress)
	} else {
		ws.log.Info("Хранилище открыто: %s (сжатие: %v)", dbPath, opts.Compress)
	}
	return ws, nil
}

// Close закрывает хранилище данных
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	ws.encoder.Close()
	ws.decoder.Close()
	return ws.db.Close()
}

func (ws *WorldStorage) encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if !ws.compress {
		return append([]byte{formatJSON}, data...), nil
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = formatZstd
	return ws.encoder.EncodeAll(data, out), nil
}

func (ws *WorldStorage) decode(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("пустая запись")
	}
	data := raw[1:]
	switch raw[0] {
	case formatJSON:
	case formatZstd:
		var err error
		data, err = ws.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("распаковка zstd: %w", err)
		}
	default:
		return fmt.Errorf("неизвестный формат записи %q", raw[0])
	}
	return json.Unmarshal(data, v)
}

func chunkKey(key world.ChunkKey) []byte {
	return []byte(fmt.Sprintf("%s%d:%d:%d", chunkPrefix, key.TileX, key.TileY, key.Index))
}

func objectKey(uid uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", objectPrefix, uid))
}

// ChunkRecordOf снимает сохраняемое состояние чанка
func ChunkRecordOf(c *world.Chunk) ChunkRecord {
	rec := ChunkRecord{
		Key:             c.Key(),
		Heights:         c.Heights(),
		Holes:           c.Holes(),
		AreaID:          c.AreaID(),
		Flags:           c.Flags(),
		ShadowMap:       c.ShadowMap(),
		DoodadExclusion: c.DoodadExclusion(),
		Liquids:         c.Liquids(),
		Textures:        c.Textures().State(),
	}
	if c.HasVertexColors() {
		colors := c.VertexColors()
		rec.VertexColors = &colors
	}
	// Временный буфер кисти не сохраняется
	rec.Textures.TempAlpha = nil
	return rec
}

// Apply записывает состояние в чанк, пересчитывает нормали и сбрасывает маску изменений
func (r ChunkRecord) Apply(c *world.Chunk) {
	c.SetHeights(r.Heights)
	if r.VertexColors != nil {
		c.SetVertexColors(*r.VertexColors)
	}
	c.SetHoles(r.Holes)
	c.SetAreaID(r.AreaID)
	c.SetFlags(r.Flags)
	c.SetShadowMap(r.ShadowMap)
	c.SetDoodadExclusion(r.DoodadExclusion)
	c.SetLiquids(r.Liquids)
	c.Textures().Restore(r.Textures.Clone())
	c.RecalcNormals()
	c.ClearDirty()
}

// SaveChunk сохраняет состояние чанка
func (ws *WorldStorage) SaveChunk(c *world.Chunk) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	data, err := ws.encode(ChunkRecordOf(c))
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка %s: %w", c.Key(), err)
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(c.Key()), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка %s в BadgerDB: %w", c.Key(), err)
	}

	c.ClearDirty()
	return nil
}

// LoadChunk загружает запись чанка. found == false, если чанк ещё не сохранялся.
func (ws *WorldStorage) LoadChunk(key world.ChunkKey) (rec ChunkRecord, found bool, err error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return rec, false, ErrNotReady
	}

	var data []byte
	err = ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("ошибка чтения чанка %s из BadgerDB: %w", key, err)
	}

	if err := ws.decode(data, &rec); err != nil {
		return rec, false, fmt.Errorf("ошибка десериализации чанка %s: %w", key, err)
	}
	return rec, true, nil
}

// ChunkKeys возвращает ключи всех сохранённых чанков
func (ws *WorldStorage) ChunkKeys() ([]world.ChunkKey, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrNotReady
	}

	var keys []world.ChunkKey
	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chunkPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), chunkPrefix)
			var k world.ChunkKey
			if _, err := fmt.Sscanf(raw, "%d:%d:%d", &k.TileX, &k.TileY, &k.Index); err != nil {
				ws.log.Warn("Ошибка парсинга ключа '%s': %v", raw, err)
				continue
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода чанков: %w", err)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.TileX != b.TileX {
			return a.TileX < b.TileX
		}
		if a.TileY != b.TileY {
			return a.TileY < b.TileY
		}
		return a.Index < b.Index
	})
	return keys, nil
}

// SaveObject сохраняет один объект
func (ws *WorldStorage) SaveObject(inst *objects.Instance) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	rec := ObjectRecord{UID: inst.UID, Kind: inst.Kind, File: inst.File, Pose: inst.Pose()}
	data, err := ws.encode(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации объекта %d: %w", inst.UID, err)
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(inst.UID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения объекта %d в BadgerDB: %w", inst.UID, err)
	}
	return nil
}

// ReplaceObjects атомарно заменяет все сохранённые объекты переданным набором
func (ws *WorldStorage) ReplaceObjects(insts []*objects.Instance) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	encoded := make(map[uint32][]byte, len(insts))
	for _, inst := range insts {
		data, err := ws.encode(ObjectRecord{UID: inst.UID, Kind: inst.Kind, File: inst.File, Pose: inst.Pose()})
		if err != nil {
			return fmt.Errorf("ошибка сериализации объекта %d: %w", inst.UID, err)
		}
		encoded[inst.UID] = data
	}

	err := ws.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(objectPrefix)
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for uid, data := range encoded {
			if err := txn.Set(objectKey(uid), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения объектов в BadgerDB: %w", err)
	}

	ws.log.Debug("Сохранено объектов: %d", len(insts))
	return nil
}

// DeleteObject удаляет сохранённый объект
func (ws *WorldStorage) DeleteObject(uid uint32) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return ErrNotReady
	}

	err := ws.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(objectKey(uid))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта %d из BadgerDB: %w", uid, err)
	}
	return nil
}

// LoadObjects загружает все сохранённые объекты по возрастанию UID
func (ws *WorldStorage) LoadObjects() ([]ObjectRecord, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, ErrNotReady
	}

	var records []ObjectRecord
	err := ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(objectPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec ObjectRecord
			if err := ws.decode(data, &rec); err != nil {
				return fmt.Errorf("объект %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения объектов из BadgerDB: %w", err)
	}

	// Ключи дополнены нулями, но сортируем явно
	sort.Slice(records, func(i, j int) bool { return records[i].UID < records[j].UID })
	return records, nil
}
