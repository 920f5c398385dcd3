package timing

import (
	"testing"
	"time"
)

func TestDelayFrames(t *testing.T) {
	tests := []struct {
		name    string
		delayMS uint32
		fps     float64
		want    int
	}{
		{"100ms at 60fps", 100, 60, 6},
		{"zero delay", 0, 60, 0},
		{"zero fps", 100, 0, 0},
		{"rounds up", 25, 60, 2},  // 1.5 frames
		{"rounds down", 20, 60, 1}, // 1.2 frames
		{"one second at 30fps", 1000, 30, 30},
		{"16ms at 240fps", 16, 240, 4}, // 3.84 frames
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DelayFrames(tt.delayMS, tt.fps); got != tt.want {
				t.Errorf("DelayFrames(%d, %v) = %d, want %d", tt.delayMS, tt.fps, got, tt.want)
			}
		})
	}
}

func TestFrameIndexRoundTrip(t *testing.T) {
	// round(index / fps * fps) == index for any valid frame rate.
	rates := []float64{23.976, 24, 25, 29.97, 30, 59.94, 60, 120}
	for _, fps := range rates {
		for _, idx := range []uint64{0, 1, 2, 59, 60, 599, 7200} {
			pts := float64(idx) / fps
			if got := FrameIndex(pts, fps); got != idx {
				t.Errorf("FrameIndex(%v, %v) = %d, want %d", pts, fps, got, idx)
			}
		}
	}
}

func TestClampFPS(t *testing.T) {
	if got := ClampFPS(10); got != MinTargetFPS {
		t.Errorf("ClampFPS(10) = %v, want %v", got, float64(MinTargetFPS))
	}
	if got := ClampFPS(1000); got != MaxTargetFPS {
		t.Errorf("ClampFPS(1000) = %v, want %v", got, float64(MaxTargetFPS))
	}
	if got := ClampFPS(60); got != 60 {
		t.Errorf("ClampFPS(60) = %v, want 60", got)
	}
}

func TestFrameTimerGate(t *testing.T) {
	now := time.Unix(1000, 0)
	timer := NewFrameTimer(60)
	timer.now = func() time.Time { return now }

	// First frame is always due.
	due, wait := timer.Due()
	if !due || wait != 0 {
		t.Fatalf("first frame: due=%v wait=%v, want due immediately", due, wait)
	}
	timer.Tick()

	// Immediately after a tick the next frame is deferred.
	due, wait = timer.Due()
	if due {
		t.Fatal("frame due immediately after tick")
	}
	if wait <= 0 || wait > timer.Interval() {
		t.Errorf("wait = %v, want within (0, %v]", wait, timer.Interval())
	}

	// Half an interval later, still deferred.
	now = now.Add(timer.Interval() / 2)
	if due, _ = timer.Due(); due {
		t.Error("frame due at half interval")
	}

	// A full interval later, due again.
	now = now.Add(timer.Interval())
	if due, _ = timer.Due(); !due {
		t.Error("frame not due after full interval")
	}
}

func TestFrameTimerSetTargetFPS(t *testing.T) {
	timer := NewFrameTimer(60)
	timer.SetTargetFPS(30)
	if timer.TargetFPS() != 30 {
		t.Errorf("TargetFPS = %v, want 30", timer.TargetFPS())
	}
	fps := 30.0
	want := time.Duration(float64(time.Second) / fps)
	if timer.Interval() != want {
		t.Errorf("Interval = %v, want %v", timer.Interval(), want)
	}
}

func TestEstimatorWindow(t *testing.T) {
	now := time.Unix(2000, 0)
	est := NewEstimator()
	est.now = func() time.Time { return now }
	est.lastUpdate = now

	// 30 frames over half a second: window not complete, FPS still zero.
	for i := 0; i < 30; i++ {
		now = now.Add(time.Second / 60)
		est.Frame()
	}
	if est.FPS() != 0 {
		t.Errorf("FPS before first window = %v, want 0", est.FPS())
	}

	// Another 31 frames pushes elapsed past one second.
	for i := 0; i < 31; i++ {
		now = now.Add(time.Second / 60)
		est.Frame()
	}
	fps := est.FPS()
	if fps < 55 || fps > 65 {
		t.Errorf("FPS = %v, want ~60", fps)
	}
	if est.FrameCount() != 61 {
		t.Errorf("FrameCount = %d, want 61", est.FrameCount())
	}
}
