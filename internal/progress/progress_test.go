package progress

import (
	"fmt"
	"testing"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name  string
		line  string
		total float64
		want  int
		ok    bool
	}{
		{"quarter", "frame=  100 fps=25 q=28.0 size=256kB time=00:00:30.00 bitrate=69.9kbits/s", 120, 25, true},
		{"floors", "time=00:00:59.99", 120, 49, true},
		{"hours", "size=1kB time=01:00:00.00 speed=1x", 7200, 50, true},
		{"clamped", "time=00:02:10.00", 120, 99, true},
		{"exact end clamped", "time=00:02:00.00", 120, 99, true},
		{"zero duration", "time=00:00:30.00", 0, 0, false},
		{"negative duration", "time=00:00:30.00", -1, 0, false},
		{"no timestamp", "Press [q] to stop, [?] for help", 120, 0, false},
		{"no fraction", "time=00:00:30", 120, 0, false},
		{"start", "time=00:00:00.00", 120, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Decode(tc.line, tc.total)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Decode(%q, %v) = %d,%v want %d,%v", tc.line, tc.total, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestThrottleForwardsTensOnce(t *testing.T) {
	th := NewThrottle()
	var forwarded []int
	for _, p := range []int{0, 3, 10, 10, 12, 20, 20, 25, 30, 99, 90} {
		if th.Accept(p) {
			forwarded = append(forwarded, p)
		}
	}
	want := []int{10, 20, 30, 90}
	if len(forwarded) != len(want) {
		t.Fatalf("forwarded %v, want %v", forwarded, want)
	}
	for i := range want {
		if forwarded[i] != want[i] {
			t.Fatalf("forwarded %v, want %v", forwarded, want)
		}
	}
	if th.Last() != 90 {
		t.Fatalf("last = %d", th.Last())
	}
}

func TestThrottleOverDecodedStream(t *testing.T) {
	th := NewThrottle()
	count := 0
	for s := 0; s <= 120; s++ {
		line := fmt.Sprintf("time=00:%02d:%02d.00", s/60, s%60)
		p, ok := Decode(line, 120)
		if ok && th.Accept(p) {
			count++
		}
	}
	// 10..90 inclusive
	if count != 9 {
		t.Fatalf("expected 9 forwarded values, got %d", count)
	}
}
