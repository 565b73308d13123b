package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/loqalabs/minibook/internal/config"
)

// LongAudioAPI starts long-audio synthesis operations.
type LongAudioAPI interface {
	SynthesizeLongAudio(ctx context.Context, req *texttospeechpb.SynthesizeLongAudioRequest) (Operation, error)
	Close() error
}

// Operation is a running long-audio synthesis.
type Operation interface {
	Wait(ctx context.Context) error
}

// ObjectStore downloads finished audio objects.
type ObjectStore interface {
	Download(ctx context.Context, bucket, object string, w io.Writer) error
	Close() error
}

// Converter transcodes a WAV file into a compressed format.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// LongFormSynthesizer renders texts too large for the standard API through
// the long-audio API and downloads the result from Cloud Storage.
type LongFormSynthesizer struct {
	api         LongAudioAPI
	store       ObjectStore
	converter   Converter
	projectID   string
	bucket      string
	timeout     time.Duration
	autoConvert bool
	clock       func() time.Time
	logger      *slog.Logger
}

func NewLongFormSynthesizer(api LongAudioAPI, store ObjectStore, converter Converter, cfg config.Config, logger *slog.Logger) *LongFormSynthesizer {
	return &LongFormSynthesizer{
		api:         api,
		store:       store,
		converter:   converter,
		projectID:   cfg.TTS.GCPProjectID,
		bucket:      cfg.TTS.GCPBucket,
		timeout:     time.Duration(cfg.TTS.LongTimeoutS) * time.Second,
		autoConvert: cfg.Audio.AutoConvert,
		clock:       time.Now,
		logger:      logger.With(slog.String("component", "tts-long-form")),
	}
}

// NewGCPLongForm connects to the long-audio and storage APIs with application
// default credentials.
func NewGCPLongForm(ctx context.Context, converter Converter, cfg config.Config, logger *slog.Logger) (*LongFormSynthesizer, error) {
	client, err := texttospeech.NewTextToSpeechLongAudioSynthesizeClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("long audio client: %w", err)
	}
	gcs, err := storage.NewClient(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return NewLongFormSynthesizer(&gcpLongAudio{client: client}, &gcsStore{client: gcs}, converter, cfg, logger), nil
}

// Close releases the API clients.
func (l *LongFormSynthesizer) Close() error {
	err := l.api.Close()
	if serr := l.store.Close(); err == nil {
		err = serr
	}
	return err
}

// Synthesize renders req into audioDir. The API only produces LINEAR16, so the
// WAV result is transcoded when another encoding was requested. On failure an
// error_<filename> marker is written next to the expected output and the
// returned error wraps ErrLongForm.
func (l *LongFormSynthesizer) Synthesize(ctx context.Context, req Request, audioDir, filename string) (string, error) {
	path, err := l.synthesize(ctx, req, audioDir, filename)
	if err != nil {
		marker := filepath.Join(audioDir, "error_"+filename)
		if werr := os.WriteFile(marker, []byte(fmt.Sprintf("Long Audio API failed: %v", err)), 0o644); werr != nil {
			l.logger.Error("write long audio error marker failed", slog.String("error", werr.Error()))
		}
		l.logger.Error("long audio synthesis failed", slog.String("error", err.Error()), slog.String("marker", marker))
		return "", fmt.Errorf("%w: %w", ErrLongForm, err)
	}
	return path, nil
}

func (l *LongFormSynthesizer) synthesize(ctx context.Context, req Request, audioDir, filename string) (string, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	wavName := base + ".wav"
	object := fmt.Sprintf("tts_output_%d/%s", l.clock().Unix(), wavName)

	input := &texttospeechpb.SynthesisInput{InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text}}
	if req.SSML {
		input.InputSource = &texttospeechpb.SynthesisInput_Ssml{Ssml: req.Text}
	}
	apiReq := &texttospeechpb.SynthesizeLongAudioRequest{
		Parent: fmt.Sprintf("projects/%s/locations/global", l.projectID),
		Input:  input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: req.LanguageCode,
			Name:         req.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_LINEAR16,
			SpeakingRate:  req.SpeakingRate,
			Pitch:         req.Pitch,
		},
		OutputGcsUri: fmt.Sprintf("gs://%s/%s", l.bucket, object),
	}

	l.logger.Info("starting long audio synthesis", slog.String("output", apiReq.OutputGcsUri))
	op, err := l.api.SynthesizeLongAudio(ctx, apiReq)
	if err != nil {
		return "", fmt.Errorf("start operation: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := op.Wait(waitCtx); err != nil {
		return "", fmt.Errorf("wait for operation: %w", err)
	}

	wavPath := filepath.Join(audioDir, wavName)
	if err := l.download(ctx, object, wavPath); err != nil {
		return "", err
	}
	l.logger.Info("long audio downloaded", slog.String("path", wavPath))

	if strings.EqualFold(req.AudioEncoding, "LINEAR16") || !l.autoConvert || l.converter == nil {
		return wavPath, nil
	}
	target := filepath.Join(audioDir, base+"."+Extension(req.AudioEncoding))
	if err := l.converter.Convert(ctx, wavPath, target); err != nil {
		l.logger.Warn("conversion failed, keeping wav", slog.String("error", err.Error()), slog.String("path", wavPath))
		return wavPath, nil
	}
	if err := os.Remove(wavPath); err != nil {
		l.logger.Warn("remove wav intermediate failed", slog.String("error", err.Error()))
	}
	return target, nil
}

func (l *LongFormSynthesizer) download(ctx context.Context, object, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := l.store.Download(ctx, l.bucket, object, f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("download gs://%s/%s: %w", l.bucket, object, err)
	}
	return f.Close()
}

type gcpLongAudio struct {
	client *texttospeech.TextToSpeechLongAudioSynthesizeClient
}

func (g *gcpLongAudio) SynthesizeLongAudio(ctx context.Context, req *texttospeechpb.SynthesizeLongAudioRequest) (Operation, error) {
	op, err := g.client.SynthesizeLongAudio(ctx, req)
	if err != nil {
		return nil, err
	}
	return gcpOperation{op: op}, nil
}

func (g *gcpLongAudio) Close() error { return g.client.Close() }

type gcpOperation struct {
	op *texttospeech.SynthesizeLongAudioOperation
}

func (o gcpOperation) Wait(ctx context.Context) error {
	_, err := o.op.Wait(ctx)
	return err
}

type gcsStore struct {
	client *storage.Client
}

func (g *gcsStore) Download(ctx context.Context, bucket, object string, w io.Writer) error {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

func (g *gcsStore) Close() error { return g.client.Close() }
