// Package wavinfo inspects synthesized WAV files. The dispatcher uses
// it as the post-synthesis check that an acknowledged request really
// left a playable, non-empty file behind.
package wavinfo

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
	SizeBytes  int64
}

// Inspect validates the file at path and reports its format. Empty or
// unparseable files are errors.
func Inspect(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat audio file: %w", err)
	}
	if stat.Size() == 0 {
		return Info{}, fmt.Errorf("audio file %s is empty", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("audio file %s is not a valid wav", path)
	}
	duration, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("read wav duration: %w", err)
	}

	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   duration,
		SizeBytes:  stat.Size(),
	}, nil
}
