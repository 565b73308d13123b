// Package audio normalizes synthesized WAV files and transcodes them to
// compressed formats with an external converter.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/minibook/internal/config"
)

// PostProcessor resamples, downmixes and requantizes WAV audio, then hands
// the result to the configured converter command.
type PostProcessor struct {
	cfg     config.AudioConfig
	command []string
	logger  *slog.Logger
}

func NewPostProcessor(cfg config.AudioConfig, logger *slog.Logger) (*PostProcessor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.ConverterCommand)
	if err != nil {
		return nil, fmt.Errorf("parse converter command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("converter command is empty")
	}
	return &PostProcessor{
		cfg:     cfg,
		command: args,
		logger:  logger.With(slog.String("component", "audio-postprocessor")),
	}, nil
}

// Convert normalizes src into an intermediate WAV and transcodes it to dst.
// The intermediate file is always removed; src is left untouched.
func (p *PostProcessor) Convert(ctx context.Context, src, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "normalized_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := p.normalizeTo(src, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close intermediate: %w", err)
	}

	args := p.expand(tmpPath, dst)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("converter failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("converter produced no output: %w", err)
	}
	p.logger.Info("audio converted",
		slog.String("output", dst),
		slog.String("bitrate", p.cfg.Bitrate),
		slog.Int("sample_rate", p.cfg.SampleRate),
		slog.Int("bit_depth", p.cfg.BitDepth),
		slog.Int("channels", p.cfg.Channels))
	return nil
}

func (p *PostProcessor) expand(input, output string) []string {
	r := strings.NewReplacer("{input}", input, "{output}", output, "{bitrate}", p.cfg.Bitrate)
	args := make([]string, len(p.command))
	for i, a := range p.command {
		args[i] = r.Replace(a)
	}
	return args
}

// Normalize rewrites src as a WAV file at dst with the configured sample
// rate, bit depth and channel count.
func (p *PostProcessor) Normalize(src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	if err := p.normalizeTo(src, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (p *PostProcessor) normalizeTo(src string, out *os.File) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}
	defer in.Close()

	dec := wav.NewDecoder(in)
	if !dec.IsValidFile() {
		return fmt.Errorf("%s is not a valid wav file", filepath.Base(src))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}

	channels := buf.Format.NumChannels
	data := buf.Data
	if channels != p.cfg.Channels {
		data = remix(data, channels, p.cfg.Channels)
		channels = p.cfg.Channels
	}
	if buf.Format.SampleRate != p.cfg.SampleRate {
		data = resample(data, channels, buf.Format.SampleRate, p.cfg.SampleRate)
	}
	if depth := int(dec.BitDepth); depth != p.cfg.BitDepth {
		data = requantize(data, depth, p.cfg.BitDepth)
	}

	enc := wav.NewEncoder(out, p.cfg.SampleRate, p.cfg.BitDepth, channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: p.cfg.SampleRate},
		Data:           data,
		SourceBitDepth: p.cfg.BitDepth,
	}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// remix averages every frame down to mono, then duplicates the mono signal
// when more output channels are requested.
func remix(data []int, from, to int) []int {
	if from <= 0 || to <= 0 {
		return data
	}
	frames := len(data) / from
	out := make([]int, frames*to)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < from; c++ {
			sum += data[f*from+c]
		}
		mono := sum / from
		for c := 0; c < to; c++ {
			out[f*to+c] = mono
		}
	}
	return out
}

// resample converts interleaved frames between rates by linear interpolation.
func resample(data []int, channels, from, to int) []int {
	if from <= 0 || to <= 0 || channels <= 0 || len(data) == 0 {
		return data
	}
	frames := len(data) / channels
	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]int, outFrames*channels)
	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if j >= frames {
			j = frames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(data[i*channels+c])
			b := float64(data[j*channels+c])
			out[f*channels+c] = int(a + (b-a)*frac)
		}
	}
	return out
}

func requantize(data []int, from, to int) []int {
	if from <= 0 || to <= 0 {
		return data
	}
	out := make([]int, len(data))
	for i, v := range data {
		if to > from {
			out[i] = v << (to - from)
		} else {
			out[i] = v >> (from - to)
		}
	}
	return out
}
