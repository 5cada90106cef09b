package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/config"
	"github.com/friendsincode/airwave/internal/media"
	"github.com/friendsincode/airwave/internal/mediaengine"
	"github.com/friendsincode/airwave/internal/models"
)

// mp3Bytes is enough of an ID3-tagged file for content sniffing.
var mp3Bytes = append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 512)...)

type fakeProber struct {
	result *mediaengine.ProbeResult
	err    error
}

func (p fakeProber) Probe(context.Context, string) (*mediaengine.ProbeResult, error) {
	return p.result, p.err
}

type fakeDownloader struct {
	info *mediaengine.VideoInfo
	data []byte
	err  error
}

func (d fakeDownloader) Download(_ context.Context, _ string, dst io.Writer) (*mediaengine.VideoInfo, error) {
	if len(d.data) > 0 {
		if _, err := dst.Write(d.data); err != nil {
			return nil, err
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.info, nil
}

type recordingQueue struct {
	mu     sync.Mutex
	tracks []*models.Track
}

func (q *recordingQueue) Enqueue(_ context.Context, t *models.Track) error {
	q.mu.Lock()
	q.tracks = append(q.tracks, t.Clone())
	q.mu.Unlock()
	return nil
}

type fixture struct {
	svc     *Service
	library *media.Library
	queue   *recordingQueue
}

func newFixture(t *testing.T, prober mediaengine.Prober, dl mediaengine.Downloader) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		SoundDir:     filepath.Join(root, "sound"),
		TempDir:      filepath.Join(root, "temp"),
		CleanupGrace: 10 * time.Millisecond,
	}
	lib := media.NewLibrary(cfg, zerolog.Nop())
	if err := lib.Init(context.Background()); err != nil {
		t.Fatalf("init library: %v", err)
	}
	t.Cleanup(func() { lib.Close() })

	q := &recordingQueue{}
	return fixture{
		svc:     NewService(lib, prober, dl, q, zerolog.Nop()),
		library: lib,
		queue:   q,
	}
}

func (f fixture) upload(t *testing.T, data []byte) string {
	t.Helper()
	path, err := f.library.WriteTemp(context.Background(), data, "upload")
	if err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestIngestQueuesTrack(t *testing.T) {
	f := newFixture(t, fakeProber{result: &mediaengine.ProbeResult{DurationSeconds: 2.5, FormatName: "mp3"}}, nil)
	src := f.upload(t, mp3Bytes)

	track, err := f.svc.Ingest(context.Background(), src, "01-my_FAVORITE song.mp3")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if track.Title != "My Favorite Song" {
		t.Fatalf("unexpected title %q", track.Title)
	}
	if !strings.HasSuffix(track.FileName, "-my_favorite_song.mp3") {
		t.Fatalf("unexpected file name %q", track.FileName)
	}
	if track.DurationSeconds != 2.5 {
		t.Fatalf("unexpected duration %v", track.DurationSeconds)
	}
	if _, err := os.Stat(track.FilePath); err != nil {
		t.Fatalf("expected canonical file: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("expected upload source to be removed")
	}
	if names := dirEntries(t, f.library.SoundDir()); len(names) != 1 {
		t.Fatalf("expected exactly one sound file, got %v", names)
	}
	if len(f.queue.tracks) != 1 || f.queue.tracks[0].ID != track.ID {
		t.Fatalf("expected track to be enqueued, got %+v", f.queue.tracks)
	}
}

func TestIngestRejectsNonAudioBeforeWriting(t *testing.T) {
	f := newFixture(t, fakeProber{result: &mediaengine.ProbeResult{DurationSeconds: 1}}, nil)
	src := f.upload(t, []byte("this is a plain text file, not a song\n"))

	_, err := f.svc.Ingest(context.Background(), src, "notes.txt")
	if !errors.Is(err, ErrNotAudio) {
		t.Fatalf("expected ErrNotAudio, got %v", err)
	}
	if !IsClientError(err) {
		t.Fatal("expected non-audio to be a client error")
	}
	if names := dirEntries(t, f.library.SoundDir()); len(names) != 0 {
		t.Fatalf("expected empty sound dir, got %v", names)
	}
	if len(f.queue.tracks) != 0 {
		t.Fatal("expected nothing enqueued")
	}
}

func TestIngestProbeFailureLeavesNoFile(t *testing.T) {
	tests := []struct {
		name   string
		prober fakeProber
	}{
		{"probe error", fakeProber{err: errors.New("moov atom not found")}},
		{"probe timeout", fakeProber{err: mediaengine.ErrTimeout}},
		{"zero duration", fakeProber{result: &mediaengine.ProbeResult{DurationSeconds: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.prober, nil)
			src := f.upload(t, mp3Bytes)

			_, err := f.svc.Ingest(context.Background(), src, "song.mp3")
			if !errors.Is(err, ErrMetadata) {
				t.Fatalf("expected ErrMetadata, got %v", err)
			}
			if IsClientError(err) {
				t.Fatal("metadata failure must not be a client error")
			}
			if names := dirEntries(t, f.library.SoundDir()); len(names) != 0 {
				t.Fatalf("expected empty sound dir, got %v", names)
			}
		})
	}
}

func TestIngestProbeTimeoutIsDistinguishable(t *testing.T) {
	f := newFixture(t, fakeProber{err: mediaengine.ErrTimeout}, nil)
	_, err := f.svc.Ingest(context.Background(), f.upload(t, mp3Bytes), "song.mp3")
	if !errors.Is(err, mediaengine.ErrTimeout) {
		t.Fatalf("expected wrapped ErrTimeout, got %v", err)
	}
}

func TestIngestYouTube(t *testing.T) {
	dl := fakeDownloader{
		info: &mediaengine.VideoInfo{ID: "abc", Title: "Daft Punk - Around the World (Official Video)"},
		data: mp3Bytes,
	}
	f := newFixture(t, fakeProber{result: &mediaengine.ProbeResult{DurationSeconds: 428}}, dl)

	track, err := f.svc.IngestYouTube(context.Background(), "https://www.youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("ingest youtube: %v", err)
	}
	if !strings.HasPrefix(track.Title, "Daft Punk") || strings.Contains(track.Title, "(") {
		t.Fatalf("unexpected title %q", track.Title)
	}
	if names := dirEntries(t, f.library.TempDir()); len(names) != 0 {
		t.Fatalf("expected temp dir to be empty, got %v", names)
	}
	if names := dirEntries(t, f.library.SoundDir()); len(names) != 1 {
		t.Fatalf("expected one sound file, got %v", names)
	}
}

func TestIngestYouTubeErrors(t *testing.T) {
	t.Run("empty url", func(t *testing.T) {
		f := newFixture(t, fakeProber{}, fakeDownloader{})
		_, err := f.svc.IngestYouTube(context.Background(), "  ")
		if !errors.Is(err, ErrInvalidURL) || !IsClientError(err) {
			t.Fatalf("expected ErrInvalidURL, got %v", err)
		}
	})

	t.Run("rejects non-http urls before downloading", func(t *testing.T) {
		for _, raw := range []string{
			"--load-info-json=/etc/passwd",
			"file:///etc/passwd",
			"ftp://example.com/a.mp3",
			"youtu.be/x",
			"https://",
		} {
			dl := fakeDownloader{err: errors.New("downloader must not run")}
			f := newFixture(t, fakeProber{}, dl)
			_, err := f.svc.IngestYouTube(context.Background(), raw)
			if !errors.Is(err, ErrInvalidURL) || !IsClientError(err) {
				t.Fatalf("%q: expected ErrInvalidURL, got %v", raw, err)
			}
		}
	})

	t.Run("download failure", func(t *testing.T) {
		dl := fakeDownloader{data: mp3Bytes[:64], err: errors.New("HTTP Error 403")}
		f := newFixture(t, fakeProber{result: &mediaengine.ProbeResult{DurationSeconds: 10}}, dl)

		_, err := f.svc.IngestYouTube(context.Background(), "https://youtu.be/x")
		if !errors.Is(err, ErrDownload) {
			t.Fatalf("expected ErrDownload, got %v", err)
		}
		if len(f.queue.tracks) != 0 {
			t.Fatal("expected nothing enqueued")
		}
		for _, dir := range []string{f.library.TempDir(), f.library.SoundDir()} {
			if names := dirEntries(t, dir); len(names) != 0 {
				t.Fatalf("expected %s to be empty, got %v", dir, names)
			}
		}
	})
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1712345678-my_song.mp3", "My Song"},
		{"hello WORLD.wav", "Hello World"},
		{"no_extension", "No Extension"},
		{"archive.tar.gz", "Archive.tar"},
		{"2024-recap-final.ogg", "Recap-final"},
		{"ÉCOLE_été.mp3", "École Été"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugAndSanitize(t *testing.T) {
	if got := Slug("My  Favorite\tSong"); got != "my_favorite_song" {
		t.Fatalf("unexpected slug %q", got)
	}
	if got := Slug("   "); got != "track" {
		t.Fatalf("expected fallback slug, got %q", got)
	}
	if got := Slug("../etc/passwd"); strings.Contains(got, "/") {
		t.Fatalf("slug must not contain separators: %q", got)
	}
	if got := SanitizeVideoTitle("AC/DC | Thunderstruck!"); got != "AC DC   Thunderstruck" {
		t.Fatalf("unexpected sanitized title %q", got)
	}
}
