package world

// LiquidVertexCount вершин жидкости на чанк (9x9)
const LiquidVertexCount = 81

// LiquidLayer один слой жидкости в чанке.
// Все поля — значения, поэтому присваивание копирует слой целиком.
type LiquidLayer struct {
	LiquidID  uint16                    `json:"liquid_id"`
	Flags     uint16                    `json:"flags"`
	MinHeight float32                   `json:"min_height"`
	MaxHeight float32                   `json:"max_height"`
	Heights   [LiquidVertexCount]float32 `json:"heights"`
	Depth     [LiquidVertexCount]uint8   `json:"depth"`
	Mask      uint64                    `json:"mask"` // клетки 8x8, в которых слой отрисовывается
}

// NewLiquidLayer создаёт плоский слой на заданной высоте, покрывающий весь чанк
func NewLiquidLayer(liquidID uint16, height float32) LiquidLayer {
	l := LiquidLayer{
		LiquidID:  liquidID,
		MinHeight: height,
		MaxHeight: height,
		Mask:      ^uint64(0),
	}
	for i := range l.Heights {
		l.Heights[i] = height
		l.Depth[i] = 255
	}
	return l
}

func cloneLiquids(layers []LiquidLayer) []LiquidLayer {
	if layers == nil {
		return nil
	}
	out := make([]LiquidLayer, len(layers))
	copy(out, layers)
	return out
}
