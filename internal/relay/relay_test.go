package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/config"
	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/media"
	"github.com/friendsincode/airwave/internal/mediaengine"
)

// webmHeader is an EBML header with a webm doctype, enough for sniffing.
var webmHeader = append([]byte{
	0x1A, 0x45, 0xDF, 0xA3, 0x9F,
	0x42, 0x86, 0x81, 0x01,
	0x42, 0x82, 0x84, 'w', 'e', 'b', 'm',
}, make([]byte, 256)...)

type fakeProber struct {
	format string
	err    error
}

func (p fakeProber) Probe(context.Context, string) (*mediaengine.ProbeResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &mediaengine.ProbeResult{FormatName: p.format, DurationSeconds: 3}, nil
}

type fakeTranscoder struct {
	output []byte
	delay  time.Duration
	err    error

	mu  sync.Mutex
	req mediaengine.TranscodeRequest
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req mediaengine.TranscodeRequest) error {
	f.mu.Lock()
	f.req = req
	f.mu.Unlock()

	if req.Progress != nil {
		select {
		case req.Progress <- mediaengine.Progress{OutTime: time.Second, TotalBytes: 16}:
		default:
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(f.output) > 0 {
		if _, err := req.Output.Write(f.output); err != nil {
			return err
		}
	}
	return f.err
}

type icecastRecorder struct {
	mu      sync.Mutex
	calls   int
	body    []byte
	headers http.Header
	user    string
	pass    string
}

func (rec *icecastRecorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, pass, _ := r.BasicAuth()
		rec.mu.Lock()
		rec.calls++
		rec.body = body
		rec.headers = r.Header.Clone()
		rec.user, rec.pass = user, pass
		rec.mu.Unlock()
		if r.Method != http.MethodPut {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(status)
	}
}

type recorded struct {
	calls   int
	body    []byte
	headers http.Header
	user    string
	pass    string
}

func (rec *icecastRecorder) snapshot() recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return recorded{calls: rec.calls, body: rec.body, headers: rec.headers, user: rec.user, pass: rec.pass}
}

type fixture struct {
	relay   *Relay
	library *media.Library
	rec     *icecastRecorder
	bus     *events.Bus
}

func newFixture(t *testing.T, prober mediaengine.Prober, tr mediaengine.Transcoder, status int, timeout time.Duration) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		SoundDir:     filepath.Join(root, "sound"),
		TempDir:      filepath.Join(root, "temp"),
		CleanupGrace: time.Second,
	}
	lib := media.NewLibrary(cfg, zerolog.Nop())
	if err := lib.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Close() })

	rec := &icecastRecorder{}
	srv := httptest.NewServer(rec.handler(status))
	t.Cleanup(srv.Close)

	sink := NewIcecastSource(IcecastConfig{URL: srv.URL + "/voice", Password: "hackme"}, srv.Client(), zerolog.Nop())
	bus := events.NewBus()
	r := New(lib, prober, tr, sink, bus, Options{MaxBytes: 1 << 20, Timeout: timeout}, zerolog.Nop())
	return fixture{relay: r, library: lib, rec: rec, bus: bus}
}

func tempFiles(t *testing.T, lib *media.Library) int {
	t.Helper()
	entries, err := os.ReadDir(lib.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestRelayForwardsEncodedStream(t *testing.T) {
	tr := &fakeTranscoder{output: []byte("encoded-mp3-frames")}
	f := newFixture(t, fakeProber{format: "matroska,webm"}, tr, http.StatusOK, 5*time.Second)
	finished := f.bus.Subscribe(events.EventRelayFinished)

	if err := f.relay.Relay(context.Background(), webmHeader, ""); err != nil {
		t.Fatalf("relay: %v", err)
	}

	got := f.rec.snapshot()
	if !bytes.Equal(got.body, []byte("encoded-mp3-frames")) {
		t.Fatalf("unexpected body %q", got.body)
	}
	if got.user != "source" || got.pass != "hackme" {
		t.Fatalf("unexpected credentials %q:%q", got.user, got.pass)
	}
	if ct := got.headers.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got.headers.Get("Ice-Name") == "" {
		t.Fatal("expected Ice-Name header")
	}

	tr.mu.Lock()
	enc := tr.req.Encoder
	tr.mu.Unlock()
	if !enc.RealTime || enc.Bitrate != 128 || enc.SampleRate != 44100 || enc.Channels != 2 {
		t.Fatalf("unexpected encoder profile %+v", enc)
	}
	if n := tempFiles(t, f.library); n != 0 {
		t.Fatalf("expected temp file removed, %d left", n)
	}

	select {
	case p := <-finished:
		if p["ok"] != true {
			t.Fatalf("expected ok relay event, got %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected relay.finished event")
	}
}

func TestRelayRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		hint   string
		prober fakeProber
		want   error
	}{
		{"empty", nil, "", fakeProber{format: "webm"}, ErrEmptyPayload},
		{"too large", make([]byte, 2<<20), "", fakeProber{format: "webm"}, ErrTooLarge},
		{"text", []byte("definitely not audio"), "", fakeProber{format: "webm"}, ErrInvalidFormat},
		{"wrong container", webmHeader, "", fakeProber{format: "ogg"}, ErrInvalidFormat},
		{"probe failure", webmHeader, "", fakeProber{err: errors.New("EBML header parsing failed")}, ErrInvalidFormat},
		{"bad hint", webmHeader, "../x", fakeProber{format: "webm"}, ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTranscoder{output: []byte("x")}
			f := newFixture(t, tt.prober, tr, http.StatusOK, 5*time.Second)

			err := f.relay.Relay(context.Background(), tt.data, tt.hint)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsClientError(err) {
				t.Fatalf("expected client error, got %v", err)
			}
			if f.rec.snapshot().calls != 0 {
				t.Fatal("nothing should reach the broadcast server")
			}
			if n := tempFiles(t, f.library); n != 0 {
				t.Fatalf("expected temp file removed, %d left", n)
			}
		})
	}
}

func TestRelayFailures(t *testing.T) {
	t.Run("transcoder error", func(t *testing.T) {
		tr := &fakeTranscoder{err: errors.New("Invalid data found when processing input")}
		f := newFixture(t, fakeProber{format: "webm"}, tr, http.StatusOK, 5*time.Second)

		err := f.relay.Relay(context.Background(), webmHeader, "webm")
		if !errors.Is(err, ErrRelay) || IsClientError(err) {
			t.Fatalf("expected ErrRelay, got %v", err)
		}
		if n := tempFiles(t, f.library); n != 0 {
			t.Fatalf("expected temp file removed, %d left", n)
		}
	})

	t.Run("icecast rejects source", func(t *testing.T) {
		tr := &fakeTranscoder{output: []byte("frames")}
		f := newFixture(t, fakeProber{format: "webm"}, tr, http.StatusUnauthorized, 5*time.Second)

		err := f.relay.Relay(context.Background(), webmHeader, "webm")
		if !errors.Is(err, ErrRelay) {
			t.Fatalf("expected ErrRelay, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		tr := &fakeTranscoder{output: []byte("frames"), delay: 5 * time.Second}
		f := newFixture(t, fakeProber{format: "webm"}, tr, http.StatusOK, 100*time.Millisecond)

		start := time.Now()
		err := f.relay.Relay(context.Background(), webmHeader, "webm")
		if !errors.Is(err, ErrRelay) || !errors.Is(err, mediaengine.ErrTimeout) {
			t.Fatalf("expected ErrRelay wrapping ErrTimeout, got %v", err)
		}
		if time.Since(start) > 3*time.Second {
			t.Fatal("relay did not honour its timeout")
		}
		if n := tempFiles(t, f.library); n != 0 {
			t.Fatalf("expected temp file removed, %d left", n)
		}
	})
}
