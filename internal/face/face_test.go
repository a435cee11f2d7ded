package face_test

import (
	"math"
	"testing"

	"faceguard/internal/face"
	"faceguard/internal/face/facetest"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMeshGeometryReadsBack(t *testing.T) {
	p := facetest.Default()
	p.EAR = 0.27
	p.Yaw = 0.2
	p.MouthOpen = 0.4
	f := facetest.Mesh(p)
	lm := f.Landmarks
	if !face.Complete(f) {
		t.Fatalf("expected complete mesh")
	}
	if !near(face.EAR(lm, face.LeftEye), 0.27) || !near(face.EAR(lm, face.RightEye), 0.27) {
		t.Fatalf("unexpected EAR %v / %v", face.EAR(lm, face.LeftEye), face.EAR(lm, face.RightEye))
	}
	if !near(face.Yaw(lm), 0.2) {
		t.Fatalf("unexpected yaw %v", face.Yaw(lm))
	}
	if !near(face.MouthRatio(lm), 0.4) {
		t.Fatalf("unexpected mouth ratio %v", face.MouthRatio(lm))
	}
	if !near(face.InterOcular(lm)/face.Width(lm), 0.6) {
		t.Fatalf("unexpected iod ratio")
	}
	if !near(face.Width(lm)/face.Height(lm), 0.75) {
		t.Fatalf("unexpected aspect")
	}
}

func TestBlinkRequiresReopen(t *testing.T) {
	d := face.NewBlinkDetector(0.15, 0.2, 2)
	for _, ear := range []float64{0.25, 0.12, 0.10, 0.22} {
		d.Observe(ear)
	}
	if d.Blinks() != 1 {
		t.Fatalf("expected one blink, got %d", d.Blinks())
	}

	held := face.NewBlinkDetector(0.15, 0.2, 2)
	for _, ear := range []float64{0.25, 0.12, 0.10, 0.11} {
		held.Observe(ear)
	}
	if held.Blinks() != 0 {
		t.Fatalf("held-closed eye must not count, got %d", held.Blinks())
	}
	if !held.Closed() {
		t.Fatalf("expected detector to report closed eye")
	}
}

func TestBlinkSingleClosedFrameIsEpisodeOnly(t *testing.T) {
	d := face.NewBlinkDetector(0.15, 0.2, 2)
	d.Observe(0.3)
	d.Observe(0.1)
	blink, episode := d.Observe(0.3)
	if blink || !episode {
		t.Fatalf("expected short episode without blink, got blink=%v episode=%v", blink, episode)
	}
	if d.LastRun() != 1 {
		t.Fatalf("expected run length 1, got %d", d.LastRun())
	}
}

func TestBlinkHysteresisBandHoldsState(t *testing.T) {
	d := face.NewBlinkDetector(0.15, 0.2, 2)
	for _, ear := range []float64{0.3, 0.1, 0.17, 0.1, 0.18, 0.25} {
		d.Observe(ear)
	}
	if d.Blinks() != 1 {
		t.Fatalf("expected band values to hold the closed run, got %d blinks", d.Blinks())
	}
}
