// Package face computes geometric ratios over 468-point face-mesh landmarks.
package face

import (
	"math"

	"faceguard/internal/model"
)

// MeshSize is the number of landmarks a complete mesh carries.
const MeshSize = 468

const (
	NoseTip       = 1
	Forehead      = 10
	UpperLip      = 13
	LowerLip      = 14
	RightEyeOuter = 33
	MouthLeft     = 61
	RightEyeInner = 133
	Chin          = 152
	LeftCheek     = 234
	LeftEyeOuter  = 263
	MouthRight    = 291
	LeftEyeInner  = 362
	RightCheek    = 454
)

// Eye sextuples in p1..p6 order: p1/p4 are the corners, p2/p6 and p3/p5 the
// vertical lid pairs.
var (
	LeftEye  = [6]int{362, 385, 387, 263, 373, 380}
	RightEye = [6]int{33, 160, 158, 133, 153, 144}
)

func Dist(a, b model.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Complete reports whether f carries a full mesh.
func Complete(f model.Face) bool {
	return len(f.Landmarks) >= MeshSize
}

// EAR is (|p2-p6| + |p3-p5|) / (2|p1-p4|).
func EAR(lm []model.Point, eye [6]int) float64 {
	width := Dist(lm[eye[0]], lm[eye[3]])
	if width == 0 {
		return 0
	}
	return (Dist(lm[eye[1]], lm[eye[5]]) + Dist(lm[eye[2]], lm[eye[4]])) / (2 * width)
}

// MeanEAR averages both eyes.
func MeanEAR(lm []model.Point) float64 {
	return (EAR(lm, LeftEye) + EAR(lm, RightEye)) / 2
}

func InterOcular(lm []model.Point) float64 {
	return Dist(lm[RightEyeOuter], lm[LeftEyeOuter])
}

func Width(lm []model.Point) float64 {
	return Dist(lm[LeftCheek], lm[RightCheek])
}

func Height(lm []model.Point) float64 {
	return Dist(lm[Forehead], lm[Chin])
}

// MouthRatio is inner-lip gap over mouth width.
func MouthRatio(lm []model.Point) float64 {
	w := Dist(lm[MouthLeft], lm[MouthRight])
	if w == 0 {
		return 0
	}
	return Dist(lm[UpperLip], lm[LowerLip]) / w
}

// MouthWidth is mouth-corner distance in inter-ocular units.
func MouthWidth(lm []model.Point) float64 {
	iod := InterOcular(lm)
	if iod == 0 {
		return 0
	}
	return Dist(lm[MouthLeft], lm[MouthRight]) / iod
}

func eyeMid(lm []model.Point) model.Point {
	a, b := lm[RightEyeOuter], lm[LeftEyeOuter]
	return model.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Yaw is the horizontal nose offset from the eye midpoint in inter-ocular
// units. Positive means the nose sits right of center in image space.
func Yaw(lm []model.Point) float64 {
	iod := InterOcular(lm)
	if iod == 0 {
		return 0
	}
	return (lm[NoseTip].X - eyeMid(lm).X) / iod
}

// Pitch is the vertical nose offset below the eye midpoint in inter-ocular
// units. Only changes against a baseline are meaningful.
func Pitch(lm []model.Point) float64 {
	iod := InterOcular(lm)
	if iod == 0 {
		return 0
	}
	return (lm[NoseTip].Y - eyeMid(lm).Y) / iod
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
