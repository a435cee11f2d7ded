// Package facetest builds synthetic face meshes with chosen geometry.
package facetest

import (
	"faceguard/internal/face"
	"faceguard/internal/model"
)

type Params struct {
	CX, CY     float64
	Scale      float64
	EAR        float64
	Yaw        float64
	Pitch      float64
	MouthOpen  float64
	MouthWidth float64
	Confidence float64
}

func Default() Params {
	return Params{
		CX:         320,
		CY:         240,
		Scale:      100,
		EAR:        0.3,
		MouthOpen:  0.05,
		MouthWidth: 1,
		Confidence: 0.95,
	}
}

// Mesh lays out a 468-point mesh. Points the analyzers do not read sit at
// the face center. With this layout EAR, Yaw, MouthRatio and the mouth width
// gain read back exactly as requested, IOD/width is 0.6 and width/height 0.75.
func Mesh(p Params) model.Face {
	s := p.Scale
	lm := make([]model.Point, face.MeshSize)
	for i := range lm {
		lm[i] = model.Point{X: p.CX, Y: p.CY}
	}
	set := func(i int, x, y float64) { lm[i] = model.Point{X: x, Y: y} }

	ey := p.CY - 0.3*s
	h := p.EAR * 0.3 * s
	// right eye, image left
	set(33, p.CX-0.45*s, ey)
	set(160, p.CX-0.35*s, ey-h/2)
	set(158, p.CX-0.25*s, ey-h/2)
	set(133, p.CX-0.15*s, ey)
	set(153, p.CX-0.25*s, ey+h/2)
	set(144, p.CX-0.35*s, ey+h/2)
	// left eye, image right
	set(362, p.CX+0.15*s, ey)
	set(385, p.CX+0.25*s, ey-h/2)
	set(387, p.CX+0.35*s, ey-h/2)
	set(263, p.CX+0.45*s, ey)
	set(373, p.CX+0.35*s, ey+h/2)
	set(380, p.CX+0.25*s, ey+h/2)

	set(face.NoseTip, p.CX+p.Yaw*0.9*s, p.CY+0.1*s+p.Pitch*0.9*s)

	my := p.CY + 0.5*s
	half := 0.3 * s * p.MouthWidth
	gap := p.MouthOpen * 2 * half
	set(face.MouthLeft, p.CX-half, my)
	set(face.MouthRight, p.CX+half, my)
	set(face.UpperLip, p.CX, my-gap/2)
	set(face.LowerLip, p.CX, my+gap/2)

	set(face.Forehead, p.CX, p.CY-s)
	set(face.Chin, p.CX, p.CY+s)
	set(face.LeftCheek, p.CX-0.75*s, p.CY)
	set(face.RightCheek, p.CX+0.75*s, p.CY)

	conf := p.Confidence
	if conf == 0 {
		conf = 0.95
	}
	return model.Face{
		Landmarks:  lm,
		Box:        model.Box{X: p.CX - 0.75*s, Y: p.CY - s, W: 1.5 * s, H: 2 * s},
		Confidence: conf,
	}
}

// WithEAR returns the default mesh with the given eye aspect ratio.
func WithEAR(ear float64) model.Face {
	p := Default()
	p.EAR = ear
	return Mesh(p)
}

// Noise fills a w×h grayscale frame with a deterministic high-frequency
// pattern seeded by seed.
func Noise(w, h int, seed uint32) *model.Luma {
	pix := make([]uint8, w*h)
	x := seed*2654435761 + 1
	for i := range pix {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		pix[i] = uint8(x >> 24)
	}
	return &model.Luma{Width: w, Height: h, Pix: pix}
}

// Flat returns a uniform w×h frame.
func Flat(w, h int, v uint8) *model.Luma {
	pix := make([]uint8, w*h)
	for i := range pix {
		pix[i] = v
	}
	return &model.Luma{Width: w, Height: h, Pix: pix}
}
