package editor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/annel0/map-editor/internal/action"
	"github.com/annel0/map-editor/internal/vec"
	"github.com/annel0/map-editor/internal/world/objects"
	"gopkg.in/yaml.v3"
)

// Script сценарий правок: модели, тайлы и последовательность шагов
type Script struct {
	Models []ModelSpec `yaml:"models"`
	Tiles  [][2]int    `yaml:"tiles"`
	Steps  []Step      `yaml:"steps"`
}

// ModelSpec описание модели-параллелепипеда для StaticSource
type ModelSpec struct {
	File     string     `yaml:"file"`
	Size     [3]float32 `yaml:"size"`
	Children []string   `yaml:"children"`
}

// Step один шаг сценария
type Step struct {
	Op       string     `yaml:"op"`
	At       [3]float32 `yaml:"at"`
	Radius   float32    `yaml:"radius"`
	Strength float32    `yaml:"strength"`
	Held     []string   `yaml:"held"`
	Texture  string     `yaml:"texture"`
	Color    [3]float32 `yaml:"color"`
	AreaID   uint32     `yaml:"area_id"`
	Add      bool       `yaml:"add"`
	Kind     string     `yaml:"kind"`
	File     string     `yaml:"file"`
	Name     string     `yaml:"name"`
	Rotation [3]float32 `yaml:"rotation"`
	Scale    float32    `yaml:"scale"`
	Index    int        `yaml:"index"`
}

// StepResult состояние истории после шага
type StepResult struct {
	Step      int
	Op        string
	Len       int
	RedoIndex int
	Open      bool
	Err       error
}

func (r StepResult) String() string {
	status := "ok"
	if r.Err != nil {
		status = "error: " + r.Err.Error()
	}
	return fmt.Sprintf("#%d %-7s len=%d redo=%d open=%v %s", r.Step, r.Op, r.Len, r.RedoIndex, r.Open, status)
}

var modalityNames = map[string]action.Modality{
	"shift":     action.ModalityShift,
	"ctrl":      action.ModalityCtrl,
	"alt":       action.ModalityAlt,
	"space":     action.ModalitySpace,
	"lmb":       action.ModalityLMB,
	"rmb":       action.ModalityRMB,
	"mmb":       action.ModalityMMB,
	"numpad":    action.ModalityNumpad,
	"scale":     action.ModalityScale,
	"rotate":    action.ModalityRotate,
	"translate": action.ModalityTranslate,
}

// ParseScript разбирает YAML сценария
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("разбор сценария: %w", err)
	}
	for i, st := range s.Steps {
		if st.Op == "" {
			return nil, fmt.Errorf("шаг %d: не указан op", i)
		}
		if _, err := parseModality(st.Held); err != nil {
			return nil, fmt.Errorf("шаг %d: %w", i, err)
		}
	}
	return &s, nil
}

// LoadScript читает сценарий из файла
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение сценария %s: %w", path, err)
	}
	return ParseScript(data)
}

// ModelSource собирает источник моделей из описаний сценария
func (sc *Script) ModelSource() *objects.StaticSource {
	src := objects.NewStaticSource()
	for _, m := range sc.Models {
		src.Add(objects.BoxModel(m.File, toVec(m.Size), m.Children...))
	}
	return src
}

func parseModality(names []string) (action.Modality, error) {
	var m action.Modality
	for _, n := range names {
		bit, ok := modalityNames[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("неизвестная модальность %q", n)
		}
		m |= bit
	}
	return m, nil
}

func parseKind(s string) (objects.Kind, error) {
	switch strings.ToLower(s) {
	case "", "model", "m2":
		return objects.KindModel, nil
	case "wmo":
		return objects.KindWMO, nil
	default:
		return 0, fmt.Errorf("неизвестный тип объекта %q", s)
	}
}

func toVec(v [3]float32) vec.Vec3F {
	return vec.Vec3F{X: v[0], Y: v[1], Z: v[2]}
}

// Runner выполняет сценарий над сессией
type Runner struct {
	session *Session
	names   map[string]uint32
}

// NewRunner создаёт исполнитель сценариев
func NewRunner(s *Session) *Runner {
	return &Runner{session: s, names: make(map[string]uint32)}
}

// Run загружает тайлы сценария и выполняет шаги по порядку.
// Ошибка шага не прерывает сценарий; onStep вызывается после каждого шага.
func (r *Runner) Run(ctx context.Context, sc *Script, onStep func(StepResult)) []StepResult {
	for _, t := range sc.Tiles {
		r.session.LoadTile(vec.Vec2{X: t[0], Y: t[1]})
	}

	results := make([]StepResult, 0, len(sc.Steps))
	for i, st := range sc.Steps {
		if ctx.Err() != nil {
			break
		}
		err := r.step(ctx, st)
		h := r.session.History
		res := StepResult{
			Step:      i,
			Op:        st.Op,
			Len:       h.Len(),
			RedoIndex: h.RedoIndex(),
			Open:      h.CurrentAction() != nil,
			Err:       err,
		}
		if err != nil {
			r.session.log.Warn("Шаг %d (%s): %v", i, st.Op, err)
		}
		results = append(results, res)
		if onStep != nil {
			onStep(res)
		}
	}
	return results
}

func (r *Runner) step(ctx context.Context, st Step) error {
	s := r.session
	held, err := parseModality(st.Held)
	if err != nil {
		return err
	}
	brush := Brush{Center: toVec(st.At), Radius: st.Radius, Strength: st.Strength}

	switch st.Op {
	case "raise":
		s.RaiseTerrain(brush, held)
	case "lower":
		brush.Strength = -brush.Strength
		s.RaiseTerrain(brush, held)
	case "color":
		s.PaintVertexColor(brush, toVec(st.Color), held)
	case "paint":
		if st.Texture == "" {
			return fmt.Errorf("paint: не указана текстура")
		}
		s.PaintTexture(brush, st.Texture, held)
	case "area":
		s.SetAreaID(brush.Center, brush.Radius, st.AreaID)
	case "hole":
		return s.ToggleHole(brush.Center)
	case "select":
		s.SelectVertices(brush.Center, brush.Radius, st.Add)
	case "place":
		kind, err := parseKind(st.Kind)
		if err != nil {
			return err
		}
		uid, err := s.PlaceObject(kind, st.File, objects.Pose{Position: brush.Center, Rotation: toVec(st.Rotation), Scale: st.Scale})
		if err != nil {
			return err
		}
		if st.Name != "" {
			r.names[st.Name] = uid
		}
	case "move":
		uid, err := r.resolve(st.Name)
		if err != nil {
			return err
		}
		return s.MoveObject(uid, objects.Pose{Position: brush.Center, Rotation: toVec(st.Rotation), Scale: st.Scale})
	case "delete":
		uid, err := r.resolve(st.Name)
		if err != nil {
			return err
		}
		return s.DeleteObject(uid)
	case "end":
		s.EndStroke()
	case "undo":
		return s.Undo(ctx)
	case "redo":
		return s.Redo(ctx)
	case "goto":
		return s.GoTo(ctx, st.Index)
	case "purge":
		s.EndStroke()
		return s.History.Purge()
	case "save":
		return s.Save()
	case "load":
		return s.Load(ctx)
	default:
		return fmt.Errorf("неизвестная операция %q", st.Op)
	}
	return nil
}

func (r *Runner) resolve(name string) (uint32, error) {
	uid, ok := r.names[name]
	if !ok {
		return 0, fmt.Errorf("объект %q не размещался в сценарии", name)
	}
	return uid, nil
}
