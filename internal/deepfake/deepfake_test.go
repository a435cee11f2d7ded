package deepfake

import (
	"math"
	"testing"
	"time"

	"faceguard/internal/config"
	"faceguard/internal/face"
	"faceguard/internal/face/facetest"
	"faceguard/internal/model"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func frameTime(i int) time.Time {
	return t0.Add(time.Duration(i) * time.Second / 30)
}

func TestFuseIsConvexCombination(t *testing.T) {
	w := config.DefaultConfig().Deepfake.Weights
	if math.Abs(w.Sum()-1) > 1e-9 {
		t.Fatalf("weights sum to %v", w.Sum())
	}
	sets := []model.DetectionScore{
		{},
		{Texture: 1, BlinkPattern: 1, Geometry: 1, Temporal: 1},
		{Texture: 0.2, BlinkPattern: 0.9, Geometry: 0.1, Temporal: 0.5},
		{Texture: 0.73, BlinkPattern: 0, Geometry: 0.33, Temporal: 0.01},
	}
	for _, s := range sets {
		want := 0.35*s.Texture + 0.25*s.BlinkPattern + 0.20*s.Geometry + 0.20*s.Temporal
		if got := Fuse(w, s); math.Abs(got-want) > 1e-12 {
			t.Fatalf("fuse(%+v) = %v, want %v", s, got, want)
		}
	}
}

func blocky(w, h int, base, spread uint8) *model.Luma {
	img := &model.Luma{Width: w, Height: h, Pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bx, by := uint32(x/8), uint32(y/8)
			hash := (bx*73856093 ^ by*19349663) % uint32(spread)
			img.Pix[y*w+x] = base + uint8(hash)
		}
	}
	return img
}

func TestTextureSeparatesSmoothBlockyFromNatural(t *testing.T) {
	tex := Texture{SharpnessRef: 500, EdgeDensityRef: 0.1}
	box := facetest.Mesh(facetest.Default()).Box

	natural := tex.Score(facetest.Noise(640, 480, 1), box)
	if natural > 0.15 {
		t.Fatalf("high-frequency texture should score low, got %v", natural)
	}
	flat := tex.Score(facetest.Flat(640, 480, 128), box)
	if math.Abs(flat-0.70) > 1e-9 {
		t.Fatalf("flat region expected 0.70, got %v", flat)
	}
	img := blocky(640, 480, 120, 8)
	st, ok := MeasureTexture(img, box)
	if !ok || st.Blockiness < 0.3 {
		t.Fatalf("expected block artifacts, got %+v", st)
	}
	if got := tex.Score(img, box); got < 0.6 {
		t.Fatalf("smooth blocky region should score high, got %v", got)
	}
	if tex.Score(nil, box) != 0 {
		t.Fatalf("missing image must be neutral")
	}
}

func feedBlinks(bp *BlinkPattern, frames int, blinkAt map[int]bool) float64 {
	var score float64
	closed := 0
	for i := 0; i < frames; i++ {
		ear := 0.3
		if blinkAt[i] {
			closed = 3
		}
		if closed > 0 {
			ear = 0.1
			closed--
		}
		score = bp.Observe(ear, frameTime(i))
	}
	return score
}

func TestBlinkAbsenceOverLongWindow(t *testing.T) {
	cfg := config.DefaultConfig()
	bp := NewBlinkPattern(cfg.Deepfake, cfg.Liveness)
	if got := feedBlinks(bp, 16*30, nil); got != 1 {
		t.Fatalf("expected absence score 1, got %v", got)
	}
}

func TestBlinkNaturalPatternScoresLow(t *testing.T) {
	cfg := config.DefaultConfig()
	bp := NewBlinkPattern(cfg.Deepfake, cfg.Liveness)
	intervals := []int{95, 130, 70, 150, 110, 85, 140, 100, 120, 75, 135, 105, 90, 125, 115}
	at := map[int]bool{}
	pos := 20
	for _, iv := range intervals {
		at[pos] = true
		pos += iv
	}
	got := feedBlinks(bp, pos, at)
	if bp.Blinks() != len(intervals) {
		t.Fatalf("expected %d blinks, got %d", len(intervals), bp.Blinks())
	}
	if got > 0.2 {
		t.Fatalf("natural blinking should score low, got %v", got)
	}
}

func TestBlinkMetronomeScoresHigh(t *testing.T) {
	cfg := config.DefaultConfig()
	bp := NewBlinkPattern(cfg.Deepfake, cfg.Liveness)
	at := map[int]bool{}
	for i := 10; i < 600; i += 20 {
		at[i] = true
	}
	if got := feedBlinks(bp, 600, at); got < 0.7 {
		t.Fatalf("fast metronomic blinking should score high, got %v", got)
	}
}

func TestPeriodicityFlatSeries(t *testing.T) {
	if Periodicity(make([]float64, 200)) != 0 {
		t.Fatalf("constant series has no periodicity")
	}
	if Periodicity([]float64{1, 2, 3}) != 0 {
		t.Fatalf("short series has no periodicity")
	}
}

func TestTemporalFrozenFootage(t *testing.T) {
	cfg := config.DefaultConfig().Deepfake
	tp := NewTemporal(cfg)
	box := facetest.Mesh(facetest.Default()).Box
	img := facetest.Noise(640, 480, 7)
	var got float64
	for i := 0; i <= cfg.TemporalHistory; i++ {
		got = tp.Observe(img, box)
	}
	if got != 1 {
		t.Fatalf("repeated frame should read as frozen, got %v", got)
	}
}

func TestTemporalLiveFootageAndFlicker(t *testing.T) {
	cfg := config.DefaultConfig().Deepfake
	tp := NewTemporal(cfg)
	box := facetest.Mesh(facetest.Default()).Box
	base := facetest.Noise(640, 480, 3)
	for i := 0; i < 40; i++ {
		img := &model.Luma{Width: base.Width, Height: base.Height, Pix: append([]uint8(nil), base.Pix...)}
		if i%2 == 1 {
			for j := range img.Pix {
				if img.Pix[j] < 250 {
					img.Pix[j] += 3
				}
			}
		}
		if got := tp.Observe(img, box); got >= 1 {
			t.Fatalf("steady small motion flagged at frame %d: %v", i, got)
		}
	}
	if got := tp.Observe(facetest.Noise(640, 480, 99), box); got < 0.9 {
		t.Fatalf("abrupt cut should read as flicker, got %v", got)
	}
	if NewTemporal(cfg).Observe(nil, box) != 0 {
		t.Fatalf("missing image must be neutral")
	}
}

func TestGeometryBoundsAndJumps(t *testing.T) {
	cfg := config.DefaultConfig().Deepfake
	g := NewGeometry(cfg)
	f := facetest.Mesh(facetest.Default())
	if got := g.Observe(f.Landmarks); got != 0 {
		t.Fatalf("plausible face scored %v", got)
	}
	if got := g.Observe(f.Landmarks); got != 0 {
		t.Fatalf("steady face scored %v", got)
	}
	warped := facetest.Mesh(facetest.Default())
	warped.Landmarks[face.LeftCheek].X -= 15
	warped.Landmarks[face.RightCheek].X += 15
	if got := g.Observe(warped.Landmarks); got != 1 {
		t.Fatalf("sudden width jump should saturate, got %v", got)
	}

	narrow := facetest.Mesh(facetest.Default())
	narrow.Landmarks[face.LeftCheek].X += 25
	narrow.Landmarks[face.RightCheek].X -= 25
	if got := NewGeometry(cfg).Observe(narrow.Landmarks); got != 1 {
		t.Fatalf("implausible iod ratio should saturate, got %v", got)
	}
}

func TestAnalyzerReplayIsDeterministic(t *testing.T) {
	cfg := config.DefaultConfig()
	run := func() []model.DetectionScore {
		a := NewAnalyzer(cfg.Deepfake, cfg.Liveness)
		var out []model.DetectionScore
		for i := 0; i < 120; i++ {
			p := facetest.Default()
			if i%37 < 3 {
				p.EAR = 0.1
			}
			p.Yaw = 0.01 * float64(i%11)
			out = append(out, a.Analyze(facetest.Mesh(p), facetest.Noise(640, 480, uint32(i)), frameTime(i)))
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("replay diverged at frame %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAnalyzerSuspectUsesThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAnalyzer(cfg.Deepfake, cfg.Liveness)
	if a.Suspect(0.6) || !a.Suspect(0.61) {
		t.Fatalf("suspect must be strictly above the frame threshold")
	}
}

func TestAnalyzerIgnoresOversizedImage(t *testing.T) {
	cfg := config.DefaultConfig()
	a := NewAnalyzer(cfg.Deepfake, cfg.Liveness)
	f := facetest.Mesh(facetest.Default())
	f.Box = model.Box{X: 0, Y: 0, W: 64, H: 64}
	img := &model.Luma{Width: 1 << 32, Height: 1 << 32, Pix: []uint8{1, 2, 3}}
	if img.Valid() {
		t.Fatalf("dimensions whose product overflows must not validate")
	}
	s := a.Analyze(f, img, time.Unix(0, 0))
	if s.Texture != 0 || s.Temporal != 0 {
		t.Fatalf("pixel cues must be skipped for an invalid image, got %+v", s)
	}
	wide := &model.Luma{Width: model.MaxImageSide + 1, Height: 1, Pix: make([]uint8, model.MaxImageSide+1)}
	if wide.Valid() {
		t.Fatalf("width above the maximum must not validate")
	}
}
