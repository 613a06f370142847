package game

import "math"

// Tractor movement tuning.
const (
	MovementSpeed = 1.9
	RotationSpeed = 4.2

	TractorLength = 30.0
	TractorWidth  = 20.0
)

// Pose is a tractor's centre position and heading in degrees, clockwise
// from the positive x axis.
type Pose struct {
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	Rotation float64 `msgpack:"rot"`
}

// Move advances the pose one step along its heading, or backs it up when
// forward is false.
func (p Pose) Move(forward bool) Pose {
	sign := 1.0
	if !forward {
		sign = -1
	}
	rad := p.Rotation * math.Pi / 180
	p.X += math.Cos(rad) * MovementSpeed * sign
	p.Y += math.Sin(rad) * MovementSpeed * sign
	return p
}

// Rotate turns the pose one step.
func (p Pose) Rotate(clockwise bool) Pose {
	if clockwise {
		p.Rotation += RotationSpeed
	} else {
		p.Rotation -= RotationSpeed
	}
	return p
}

// Bounds returns the axis-aligned box around the rotated tractor body.
func (p Pose) Bounds() Rect {
	rad := p.Rotation * math.Pi / 180
	cos, sin := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	w := TractorLength*cos + TractorWidth*sin
	h := TractorLength*sin + TractorWidth*cos
	return Rect{X: p.X - w/2, Y: p.Y - h/2, W: w, H: h}
}
