// Package tts turns sanitized chapter text into audio files through the
// Google Text-to-Speech standard and long-audio APIs.
package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/loqalabs/minibook/internal/config"
)

// Notices synthesized in place of content that could not be narrated.
const (
	ErrorNotice   = "There was an error processing this text with the Text to Speech API."
	TooLongNotice = "This text was too long to process with the Text to Speech API."
)

// ErrLongForm wraps every long-audio failure.
var ErrLongForm = errors.New("long audio synthesis failed")

// Request is one synthesis call. Text is SSML when SSML is set.
type Request struct {
	Text          string
	SSML          bool
	LanguageCode  string
	Voice         string
	SpeakingRate  float64
	Pitch         float64
	AudioEncoding string
}

// RequestFromConfig fills the voice and audio settings; Text is left empty.
func RequestFromConfig(cfg config.TTSConfig) Request {
	return Request{
		LanguageCode:  cfg.LanguageCode,
		Voice:         cfg.Voice,
		SpeakingRate:  cfg.SpeakingRate,
		Pitch:         cfg.Pitch,
		AudioEncoding: cfg.AudioEncoding,
	}
}

// Backend performs a single standard synthesis call and returns audio bytes.
type Backend interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Extension returns the file extension for an audio encoding name.
func Extension(encoding string) string {
	switch strings.ToUpper(encoding) {
	case "MP3":
		return "mp3"
	case "LINEAR16", "MULAW", "ALAW":
		return "wav"
	case "OGG_OPUS":
		return "ogg"
	default:
		return strings.ToLower(encoding)
	}
}

// Route is the backend chosen for a piece of text.
type Route int

const (
	RouteStandard Route = iota
	RouteLongForm
	RouteTooLong
	RouteTruncated
)

func (r Route) String() string {
	switch r {
	case RouteStandard:
		return "standard"
	case RouteLongForm:
		return "long_form"
	case RouteTooLong:
		return "too_long"
	case RouteTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Outcome describes what happened to one synthesis request.
type Outcome struct {
	Path        string
	Route       Route
	Skipped     bool
	Placeholder bool
	Truncated   bool
	Mock        bool
}
