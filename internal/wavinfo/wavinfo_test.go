package wavinfo

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTone renders one second of a 440 Hz sine at the given rate.
func writeTone(t *testing.T, path string, sampleRate int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate}}
	buf.Data = make([]int, sampleRate)
	for i := range buf.Data {
		buf.Data[i] = int(10000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 22050)

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected format: %+v", info)
	}
	if info.Duration < 900*time.Millisecond || info.Duration > 1100*time.Millisecond {
		t.Fatalf("expected ~1s of audio, got %s", info.Duration)
	}
	if info.SizeBytes == 0 {
		t.Fatal("expected non-zero size")
	}
}

func TestInspectRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("this is not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatal("expected error for non-wav content")
	}
}

func TestInspectMissingFile(t *testing.T) {
	if _, err := Inspect(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
