package world

import (
	"github.com/annel0/map-editor/internal/util"
)

// TerrainGenerator заполняет новые тайлы рельефом из шума Перлина
type TerrainGenerator struct {
	Seed       int64
	NoiseScale float64 // Масштаб шума (чем меньше, тем плавнее рельеф)
	Amplitude  float32 // Перепад высот
	BaseHeight float32 // Средняя высота
	noise      *util.Noise
}

// NewTerrainGenerator создаёт генератор рельефа
func NewTerrainGenerator(seed int64) *TerrainGenerator {
	return &TerrainGenerator{
		Seed:       seed,
		NoiseScale: 0.004,
		Amplitude:  60,
		BaseHeight: 0,
		noise:      util.NewNoise(seed),
	}
}

// Fill записывает высоты чанка. Вызывается до регистрации чанка в истории,
// поэтому маска изменений после генерации сбрасывается вызывающим.
func (g *TerrainGenerator) Fill(c *Chunk) {
	heights := c.Heights()
	for i := range heights {
		v := heights[i]
		n := g.noise.At(float64(v.X)*g.NoiseScale, float64(v.Z)*g.NoiseScale)
		heights[i].Y = g.BaseHeight + float32(n-0.5)*g.Amplitude
	}
	c.SetHeights(heights)
}
