package transfer

import (
	"testing"
	"time"
)

func TestSpeed(t *testing.T) {
	if got := Speed(1000, time.Second); got != 1000 {
		t.Errorf("Speed(1000, 1s) = %v", got)
	}
	if got := Speed(5, 0); got != 5000 {
		t.Errorf("Elapsed should floor at 1ms: got %v", got)
	}
}

func TestETA(t *testing.T) {
	tests := []struct {
		done, total int64
		speed       float64
		want        string
	}{
		{0, 0, 100, "--:--"},
		{100, 100, 100, "--:--"},
		{0, 100, 0, "--:--"},
		{0, 1000, 10, "01:40"},
		{0, 1001, 10, "01:41"},
		{0, 36000, 10, "1:00:00"},
	}
	for _, tt := range tests {
		if got := ETA(tt.done, tt.total, tt.speed); got != tt.want {
			t.Errorf("ETA(%d, %d, %v) = %q, want %q", tt.done, tt.total, tt.speed, got, tt.want)
		}
	}
}

func TestProgressScale(t *testing.T) {
	tests := []struct {
		done, total int64
		want        int
	}{
		{0, 0, 0},
		{50, 100, 500},
		{150000, 150000, 1000},
		{200, 100, 1000},
	}
	for _, tt := range tests {
		if got := Progress(tt.done, tt.total); got != tt.want {
			t.Errorf("Progress(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestQueueSummary(t *testing.T) {
	if got := QueueSummary(2, true, 3); got != "3/6" {
		t.Errorf("QueueSummary(2, true, 3) = %q", got)
	}
	if got := QueueSummary(4, false, 0); got != "4/4" {
		t.Errorf("QueueSummary(4, false, 0) = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512B",
		2048:            "2.0KB",
		5 * 1024 * 1024: "5.0MB",
		3 << 30:         "3.0GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSubtitle(t *testing.T) {
	if got := Subtitle(1024, 0, 1024); got != "1.0KB · 1.0KB/s" {
		t.Errorf("Unknown-size subtitle = %q", got)
	}
	if got := Subtitle(0, 2048, 1024); got != "0B / 2.0KB · 1.0KB/s · ETA 00:02" {
		t.Errorf("Known-size subtitle = %q", got)
	}
}

func TestTitle(t *testing.T) {
	if Title(KindDownload, "a") != "Download: a" || Title(KindUploadFromFile, "b") != "Upload: b" {
		t.Error("Title prefix mismatch")
	}
}

func TestReporterThrottle(t *testing.T) {
	task, err := NewTask(TaskSpec{Kind: KindDownload, RemotePath: "/r", LocalPath: "/tmp/r", TotalBytes: 10000}, 0)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Unix(1000, 0)
	now := func() time.Time { return clock }
	task.activate(now())

	var got []Sample
	rep := newReporter(task, now, 200*time.Millisecond, 5, func(s Sample) { got = append(got, s) })

	rep.update(0, false)   // first update always emitted
	rep.update(1, false)   // inside window, progress +0
	rep.update(100, false) // progress +10, bypasses window
	clock = clock.Add(300 * time.Millisecond)
	rep.update(101, false) // window elapsed
	rep.update(102, true)  // final always emitted

	if len(got) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(got))
	}
	if got[1].Progress != 10 {
		t.Errorf("Second sample progress = %d, want 10", got[1].Progress)
	}
	if got[3].BytesDone != 102 {
		t.Errorf("Final sample bytes = %d", got[3].BytesDone)
	}
}
