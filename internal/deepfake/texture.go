package deepfake

import (
	"math"

	"faceguard/internal/face"
	"faceguard/internal/model"
)

const (
	edgeGradient = 30.0
	blockSize    = 8
	minRegion    = 8
)

// TextureStats are the raw pixel statistics behind the texture score.
type TextureStats struct {
	LaplacianVar float64
	EdgeDensity  float64
	Blockiness   float64
}

// Texture scores over-smoothing and block-compression artifacts in the
// face region. It keeps no state between frames.
type Texture struct {
	SharpnessRef   float64
	EdgeDensityRef float64
}

func (t Texture) Score(img *model.Luma, box model.Box) float64 {
	st, ok := MeasureTexture(img, box)
	if !ok {
		return 0
	}
	sharpLow := face.Clamp01(1 - st.LaplacianVar/t.SharpnessRef)
	edgeLow := face.Clamp01(1 - st.EdgeDensity/t.EdgeDensityRef)
	return face.Clamp01(0.45*sharpLow + 0.25*edgeLow + 0.30*st.Blockiness)
}

type region struct{ x0, y0, x1, y1 int }

func clampRegion(img *model.Luma, box model.Box) (region, bool) {
	if !img.Valid() {
		return region{}, false
	}
	r := region{
		x0: int(math.Floor(box.X)),
		y0: int(math.Floor(box.Y)),
		x1: int(math.Ceil(box.X + box.W)),
		y1: int(math.Ceil(box.Y + box.H)),
	}
	r.x0 = max(r.x0, 0)
	r.y0 = max(r.y0, 0)
	r.x1 = min(r.x1, img.Width)
	r.y1 = min(r.y1, img.Height)
	if r.x1-r.x0 < minRegion || r.y1-r.y0 < minRegion {
		return region{}, false
	}
	return r, true
}

// MeasureTexture computes Laplacian variance, Sobel edge density and 8x8
// blockiness over the face box. ok is false when there is no usable region.
func MeasureTexture(img *model.Luma, box model.Box) (TextureStats, bool) {
	r, ok := clampRegion(img, box)
	if !ok {
		return TextureStats{}, false
	}
	px := func(x, y int) float64 { return float64(img.At(x, y)) }

	var n, edges int
	var mean, m2 float64
	for y := r.y0 + 1; y < r.y1-1; y++ {
		for x := r.x0 + 1; x < r.x1-1; x++ {
			lap := 4*px(x, y) - px(x-1, y) - px(x+1, y) - px(x, y-1) - px(x, y+1)
			n++
			delta := lap - mean
			mean += delta / float64(n)
			m2 += delta * (lap - mean)

			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			if math.Sqrt(gx*gx+gy*gy) > edgeGradient {
				edges++
			}
		}
	}
	var st TextureStats
	if n > 0 {
		st.LaplacianVar = m2 / float64(n)
		st.EdgeDensity = float64(edges) / float64(n)
	}
	st.Blockiness = blockiness(img, r)
	return st, true
}

// blockiness compares neighbour differences across 8x8 block seams, aligned
// to the image origin as codecs lay them out, with differences inside blocks.
func blockiness(img *model.Luma, r region) float64 {
	var seam, inner float64
	var seamN, innerN int
	for y := r.y0; y < r.y1; y++ {
		for x := r.x0; x < r.x1-1; x++ {
			d := math.Abs(float64(img.At(x+1, y)) - float64(img.At(x, y)))
			if (x+1)%blockSize == 0 {
				seam += d
				seamN++
			} else {
				inner += d
				innerN++
			}
		}
	}
	for y := r.y0; y < r.y1-1; y++ {
		for x := r.x0; x < r.x1; x++ {
			d := math.Abs(float64(img.At(x, y+1)) - float64(img.At(x, y)))
			if (y+1)%blockSize == 0 {
				seam += d
				seamN++
			} else {
				inner += d
				innerN++
			}
		}
	}
	if seamN == 0 || innerN == 0 {
		return 0
	}
	seamMean, innerMean := seam/float64(seamN), inner/float64(innerN)
	return face.Clamp01((seamMean - innerMean) / (innerMean + 1) / 4)
}
