package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/andywolf/gamepilot/internal/action"
	"github.com/andywolf/gamepilot/internal/detect"
	"github.com/andywolf/gamepilot/internal/device"
)

var (
	_ device.Device       = (*Client)(nil)
	_ device.Titled       = (*Client)(nil)
	_ detect.MemoryReader = (*Client)(nil)
)

type fakeBridge struct {
	mu      sync.Mutex
	running bool
	frame   image.Image
	memory  []byte
	inputs  []inputRequest
}

func (f *fakeBridge) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(Status{Running: f.running, Title: "TETRIS"})
	})
	mux.HandleFunc("/frame", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.frame == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, f.frame)
	})
	mux.HandleFunc("/input", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var in inputRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.inputs = append(f.inputs, in)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/memory", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != "49312" {
			http.Error(w, "bad address "+r.URL.Query().Get("address"), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(memoryResponse{Data: base64.StdEncoding.EncodeToString(f.memory)})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeBridge) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 0)
}

func TestStatusAndTitle(t *testing.T) {
	f := &fakeBridge{running: true}
	c := newTestClient(t, f)

	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	title, err := c.Title(context.Background())
	if err != nil || title != "TETRIS" {
		t.Errorf("Title() = %q, %v", title, err)
	}

	f.set(func() { f.running = false })
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true after stop")
	}
}

func TestIsRunning_UnreachableBridge(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if New(url, 0).IsRunning(context.Background()) {
		t.Error("unreachable bridge should not report running")
	}
}

func TestCaptureFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 160, 144))
	img.Set(3, 4, color.RGBA{R: 255, A: 255})
	f := &fakeBridge{}
	c := newTestClient(t, f)

	if _, err := c.CaptureFrame(context.Background()); !errors.Is(err, device.ErrNoFrame) {
		t.Errorf("CaptureFrame() with no frame error = %v, want ErrNoFrame", err)
	}

	f.set(func() { f.frame = img })
	got, err := c.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("CaptureFrame() error: %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Errorf("bounds = %v, want %v", got.Bounds(), img.Bounds())
	}
	r, _, _, _ := got.At(3, 4).RGBA()
	if r>>8 != 255 {
		t.Errorf("pixel red = %d, want 255", r>>8)
	}
}

func TestPressRelease(t *testing.T) {
	f := &fakeBridge{}
	c := newTestClient(t, f)

	if err := c.PressButton(context.Background(), action.ButtonA); err != nil {
		t.Fatal(err)
	}
	if err := c.ReleaseButton(context.Background(), action.ButtonA); err != nil {
		t.Fatal(err)
	}
	if err := c.PressButton(context.Background(), action.ButtonNone); err == nil {
		t.Error("pressing none should fail")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	want := []inputRequest{{Button: "a", State: "press"}, {Button: "a", State: "release"}}
	if len(f.inputs) != len(want) {
		t.Fatalf("inputs = %+v", f.inputs)
	}
	for i := range want {
		if f.inputs[i] != want[i] {
			t.Errorf("input %d = %+v, want %+v", i, f.inputs[i], want[i])
		}
	}
}

func TestReadMemory(t *testing.T) {
	f := &fakeBridge{memory: []byte{0x34, 0x12}}
	c := newTestClient(t, f)

	got, err := c.ReadMemory(context.Background(), 0xC0A0, 2)
	if err != nil {
		t.Fatalf("ReadMemory() error: %v", err)
	}
	if got[0] != 0x34 || got[1] != 0x12 {
		t.Errorf("ReadMemory() = %x", got)
	}

	if _, err := c.ReadMemory(context.Background(), 0xC0A0, 4); err == nil || !strings.Contains(err.Error(), "short memory read") {
		t.Errorf("expected short read error, got %v", err)
	}
	if _, err := c.ReadMemory(context.Background(), 0x0001, 1); err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("expected status error, got %v", err)
	}
}
