package vec

import "math"

// Vec3F представляет трехмерный вектор одинарной точности.
// Используется для вершин террейна, цветов и поз объектов.
type Vec3F struct {
	X float32
	Y float32
	Z float32
}

// Add складывает два вектора
func (v Vec3F) Add(other Vec3F) Vec3F {
	return Vec3F{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3F) Sub(other Vec3F) Vec3F {
	return Vec3F{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3F) Mul(scalar float32) Vec3F {
	return Vec3F{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Cross возвращает векторное произведение
func (v Vec3F) Cross(other Vec3F) Vec3F {
	return Vec3F{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Length возвращает длину вектора
func (v Vec3F) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Normalized возвращает нормализованный вектор
func (v Vec3F) Normalized() Vec3F {
	length := v.Length()
	if length == 0 {
		return Vec3F{}
	}
	return v.Mul(1 / length)
}

// Min возвращает покомпонентный минимум
func (v Vec3F) Min(other Vec3F) Vec3F {
	return Vec3F{
		X: float32(math.Min(float64(v.X), float64(other.X))),
		Y: float32(math.Min(float64(v.Y), float64(other.Y))),
		Z: float32(math.Min(float64(v.Z), float64(other.Z))),
	}
}

// Max возвращает покомпонентный максимум
func (v Vec3F) Max(other Vec3F) Vec3F {
	return Vec3F{
		X: float32(math.Max(float64(v.X), float64(other.X))),
		Y: float32(math.Max(float64(v.Y), float64(other.Y))),
		Z: float32(math.Max(float64(v.Z), float64(other.Z))),
	}
}

// DistanceTo возвращает расстояние до другого вектора
func (v Vec3F) DistanceTo(other Vec3F) float32 {
	return v.Sub(other).Length()
}
