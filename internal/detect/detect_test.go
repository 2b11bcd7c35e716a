package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log"
	"strings"
	"testing"
	"time"
)

type fakeMemory struct {
	values map[uint32][]byte
	err    error
}

func (f *fakeMemory) ReadMemory(_ context.Context, address uint32, length int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	b := f.values[address]
	if len(b) < length {
		return nil, errors.New("short read")
	}
	return b[:length], nil
}

func (f *fakeMemory) set(address uint32, b ...byte) {
	if f.values == nil {
		f.values = make(map[uint32][]byte)
	}
	f.values[address] = b
}

type fakeText struct {
	text       string
	lastRegion image.Rectangle
}

func (f *fakeText) RecognizeText(_ context.Context, _ image.Image, region image.Rectangle) (string, error) {
	f.lastRegion = region
	return f.text, nil
}

type fakeMatcher struct{ score float64 }

func (f *fakeMatcher) Similarity(_ context.Context, _ image.Image, _ image.Rectangle, _ []byte) (float64, error) {
	return f.score, nil
}

func newFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 160, 144))
}

func quietSet(caps Capabilities, opts ...SetOption) (*Set, *bytes.Buffer) {
	var buf bytes.Buffer
	opts = append(opts, WithLogger(log.New(&buf, "", 0)))
	return NewSet(caps, opts...), &buf
}

func int64Ptr(v int64) *int64 { return &v }

func TestCooldown_NeverFiresCloserThanCooldown(t *testing.T) {
	cadences := []time.Duration{time.Millisecond, 7 * time.Millisecond, 130 * time.Millisecond, time.Second}
	const cooldown = 500 * time.Millisecond

	for _, cadence := range cadences {
		t.Run(cadence.String(), func(t *testing.T) {
			set, _ := quietSet(Capabilities{Text: &fakeText{text: "GAME OVER"}})
			det := &TextDetector{Common: Common{ID: "dies", Cooldown: cooldown, Enabled: true}, Pattern: "GAME OVER"}
			detectors := []Detector{det}

			start := time.Unix(1000, 0)
			var fires []time.Time
			for ts := start; ts.Before(start.Add(5 * time.Second)); ts = ts.Add(cadence) {
				for _, ev := range set.Evaluate(context.Background(), detectors, PollContext{Timestamp: ts}, newFrame()) {
					fires = append(fires, ev.Timestamp)
				}
			}
			if len(fires) < 2 {
				t.Fatalf("expected repeated firings, got %d", len(fires))
			}
			for i := 1; i < len(fires); i++ {
				if gap := fires[i].Sub(fires[i-1]); gap < cooldown {
					t.Fatalf("fires %d and %d only %v apart, cooldown %v", i-1, i, gap, cooldown)
				}
			}
		})
	}
}

func TestCooldown_KeyedByID(t *testing.T) {
	set, _ := quietSet(Capabilities{Text: &fakeText{text: "GAME OVER"}})
	now := time.Unix(2000, 0)
	first := &TextDetector{Common: Common{ID: "dies", Cooldown: time.Minute, Enabled: true}, Pattern: "GAME OVER"}
	if got := set.Evaluate(context.Background(), []Detector{first}, PollContext{Timestamp: now}, newFrame()); len(got) != 1 {
		t.Fatalf("expected first detector to fire, got %d events", len(got))
	}

	replacement := &TextDetector{Common: Common{ID: "dies", Cooldown: time.Minute, Enabled: true}, Pattern: "OVER"}
	if got := set.Evaluate(context.Background(), []Detector{replacement}, PollContext{Timestamp: now.Add(time.Second)}, newFrame()); len(got) != 0 {
		t.Errorf("replacement with same id should inherit cooldown, got %d events", len(got))
	}

	set.Reset()
	if got := set.Evaluate(context.Background(), []Detector{replacement}, PollContext{Timestamp: now.Add(2 * time.Second)}, newFrame()); len(got) != 1 {
		t.Errorf("after reset expected a firing, got %d events", len(got))
	}
}

func TestMemoryIncreased_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold int64
		base      int64
	}{
		{name: "threshold 1", threshold: 1, base: 10},
		{name: "threshold 5", threshold: 5, base: 10},
		{name: "threshold 100", threshold: 100, base: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &fakeMemory{}
			set, _ := quietSet(Capabilities{Memory: mem})
			det := &MemoryDetector{
				Common:          Common{ID: "score_up", Enabled: true},
				Address:         0xC0A0,
				Width:           WidthU16,
				Comparator:      Increased,
				ChangeThreshold: tt.threshold,
			}
			values := []int64{tt.base, tt.base + tt.threshold - 1, tt.base + tt.threshold}

			var firedOn []int
			for i, v := range values {
				mem.set(0xC0A0, byte(v), byte(v>>8))
				ts := time.Unix(int64(3000+i), 0)
				if evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{Timestamp: ts}, nil); len(evs) > 0 {
					firedOn = append(firedOn, i+1)
				}
			}
			if len(firedOn) != 1 || firedOn[0] != 3 {
				t.Errorf("fired on polls %v, want [3]", firedOn)
			}
		})
	}
}

func TestMemoryDetector_PreviousUpdatedWithoutFiring(t *testing.T) {
	mem := &fakeMemory{}
	set, _ := quietSet(Capabilities{Memory: mem})
	det := &MemoryDetector{
		Common:       Common{ID: "lives", Enabled: true},
		Address:      0xD000,
		Width:        WidthU8,
		Comparator:   Equals,
		CompareValue: int64Ptr(0),
	}

	mem.set(0xD000, 3)
	if evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{}, nil); len(evs) != 0 {
		t.Fatalf("unexpected events %v", evs)
	}
	if prev, ok := det.PreviousValue(); !ok || prev != 3 {
		t.Errorf("previous = (%d, %v), want (3, true)", prev, ok)
	}
}

func TestMemoryDetector_Comparators(t *testing.T) {
	tests := []struct {
		name       string
		width      Width
		comparator Comparator
		compare    *int64
		first      []byte
		second     []byte
		wantFire   bool
		wantData   string
	}{
		{name: "changed", width: WidthU8, comparator: Changed, first: []byte{1}, second: []byte{2}, wantFire: true, wantData: "value: 2, previous: 1, delta: 1"},
		{name: "unchanged", width: WidthU8, comparator: Changed, first: []byte{1}, second: []byte{1}},
		{name: "decreased signed", width: WidthS8, comparator: Decreased, first: []byte{0x02}, second: []byte{0xFF}, wantFire: true, wantData: "value: -1, previous: 2, delta: -3"},
		{name: "greaterThan", width: WidthU16, comparator: GreaterThan, compare: int64Ptr(255), first: []byte{0, 0}, second: []byte{0x00, 0x01}, wantFire: true},
		{name: "lessThan false", width: WidthS16, comparator: LessThan, compare: int64Ptr(-5), first: []byte{0, 0}, second: []byte{0xFC, 0xFF}},
		{name: "notEquals", width: WidthU8, comparator: NotEquals, compare: int64Ptr(7), first: []byte{7}, second: []byte{8}, wantFire: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &fakeMemory{}
			set, _ := quietSet(Capabilities{Memory: mem})
			det := &MemoryDetector{
				Common:       Common{ID: "m", Enabled: true},
				Address:      0x10,
				Width:        tt.width,
				Comparator:   tt.comparator,
				CompareValue: tt.compare,
			}
			if err := det.Validate(); err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			mem.set(0x10, tt.first...)
			set.Evaluate(context.Background(), []Detector{det}, PollContext{Timestamp: time.Unix(1, 0)}, nil)
			mem.set(0x10, tt.second...)
			evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{Timestamp: time.Unix(2, 0)}, nil)

			if got := len(evs) == 1; got != tt.wantFire {
				t.Fatalf("fired = %v, want %v (events %v)", got, tt.wantFire, evs)
			}
			if tt.wantData != "" && evs[0].Data.String() != tt.wantData {
				t.Errorf("data = %q, want %q", evs[0].Data.String(), tt.wantData)
			}
			if tt.wantFire && evs[0].Source != SourceMemory {
				t.Errorf("source = %q, want memory", evs[0].Source)
			}
		})
	}
}

func TestSet_FailsClosedAndIsolated(t *testing.T) {
	set, logs := quietSet(Capabilities{Text: &fakeText{text: "PAUSED"}})
	broken := &MemoryDetector{Common: Common{ID: "hp", Enabled: true}, Width: WidthU8, Comparator: Changed}
	noMatcher := &ImageDetector{Common: Common{ID: "boss", Enabled: true}, PatternRef: []byte{1}, SimilarityThreshold: 0.9}
	working := &TextDetector{Common: Common{ID: "paused", Enabled: true}, Pattern: "paused"}

	for i := 0; i < 3; i++ {
		evs := set.Evaluate(context.Background(), []Detector{broken, noMatcher, working}, PollContext{Timestamp: time.Unix(int64(i), 0)}, newFrame())
		if len(evs) != 1 || evs[0].Type != "paused" {
			t.Fatalf("poll %d: events = %v, want only paused", i, evs)
		}
	}

	out := logs.String()
	if strings.Count(out, "detector hp") != 1 {
		t.Errorf("expected one warning for hp, got log:\n%s", out)
	}
	if strings.Count(out, "detector boss") != 1 {
		t.Errorf("expected one warning for boss, got log:\n%s", out)
	}
	if !strings.Contains(out, ErrCapabilityUnavailable.Error()) {
		t.Errorf("expected capability error in log, got:\n%s", out)
	}
}

func TestSet_SkipsDisabled(t *testing.T) {
	set, _ := quietSet(Capabilities{Text: &fakeText{text: "x"}})
	det := &TextDetector{Common: Common{ID: "x", Enabled: false}, Pattern: "x"}
	if evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{}, newFrame()); len(evs) != 0 {
		t.Errorf("disabled detector fired: %v", evs)
	}
}

func TestTextDetector_Match(t *testing.T) {
	tests := []struct {
		name          string
		pattern       string
		isRegex       bool
		caseSensitive bool
		text          string
		want          bool
	}{
		{name: "literal insensitive", pattern: "game over", text: "GAME OVER", want: true},
		{name: "literal sensitive miss", pattern: "game over", caseSensitive: true, text: "GAME OVER"},
		{name: "regex", pattern: `LEVEL\s+\d+`, isRegex: true, text: "level 3 start", want: true},
		{name: "regex sensitive miss", pattern: `LEVEL\s+\d+`, isRegex: true, caseSensitive: true, text: "level 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &TextDetector{Common: Common{ID: "t", Enabled: true}, Pattern: tt.pattern, IsRegex: tt.isRegex, CaseSensitive: tt.caseSensitive}
			if err := d.Validate(); err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			got, err := d.Match(tt.text)
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestTextDetector_RegionClipped(t *testing.T) {
	rec := &fakeText{text: "HP"}
	set, _ := quietSet(Capabilities{Text: rec})
	det := &TextDetector{Common: Common{ID: "hp", Enabled: true}, Pattern: "HP", Region: &Rect{X: 100, Y: 120, Width: 100, Height: 100}}
	set.Evaluate(context.Background(), []Detector{det}, PollContext{}, newFrame())
	want := image.Rect(100, 120, 160, 144)
	if rec.lastRegion != want {
		t.Errorf("region = %v, want %v", rec.lastRegion, want)
	}
}

func TestImageDetector_Threshold(t *testing.T) {
	matcher := &fakeMatcher{score: 0.85}
	set, _ := quietSet(Capabilities{Image: matcher})
	det := &ImageDetector{Common: Common{ID: "boss", Enabled: true}, PatternRef: []byte("png"), SimilarityThreshold: 0.9}

	if evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{Timestamp: time.Unix(1, 0)}, newFrame()); len(evs) != 0 {
		t.Errorf("fired below threshold: %v", evs)
	}
	matcher.score = 0.9
	evs := set.Evaluate(context.Background(), []Detector{det}, PollContext{Timestamp: time.Unix(2, 0)}, newFrame())
	if len(evs) != 1 || evs[0].Source != SourceImage {
		t.Errorf("expected one image event at threshold, got %v", evs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		det     Detector
		wantErr string
	}{
		{name: "missing id", det: &TextDetector{Pattern: "x"}, wantErr: "id is required"},
		{name: "bad width", det: &MemoryDetector{Common: Common{ID: "m"}, Width: "u32", Comparator: Changed}, wantErr: "invalid width"},
		{name: "equals without value", det: &MemoryDetector{Common: Common{ID: "m"}, Width: WidthU8, Comparator: Equals}, wantErr: "requires compareValue"},
		{name: "bad regex", det: &TextDetector{Common: Common{ID: "t"}, Pattern: "(", IsRegex: true}, wantErr: "invalid pattern"},
		{name: "threshold range", det: &ImageDetector{Common: Common{ID: "i"}, PatternRef: []byte{1}, SimilarityThreshold: 1.5}, wantErr: "outside [0,1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.det.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
