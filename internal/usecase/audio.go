package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

const (
	FallbackAudioNotReceived   = "Erreur lors de la réception du message vocal."
	FallbackAudioNotUnderstood = "Désolé, je n'ai pas pu comprendre votre message vocal."

	transcriptPrefix = "[Message vocal transcrit] "
)

type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string, w io.Writer) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// AudioFile is a downloaded voice note waiting for transcription. It lives in
// a temporary file that Transcribe removes.
type AudioFile struct {
	path string
}

func (f *AudioFile) Path() string {
	return f.path
}

type AudioService struct {
	media   MediaDownloader
	stt     Transcriber
	tempDir string
	logger  *slog.Logger
}

// NewAudioService builds the voice pipeline. An empty tempDir uses the OS
// default.
func NewAudioService(media MediaDownloader, stt Transcriber, tempDir string, logger *slog.Logger) (*AudioService, error) {
	if media == nil {
		return nil, errors.New("usecase: media downloader must not be nil")
	}
	if stt == nil {
		return nil, errors.New("usecase: transcriber must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioService{media: media, stt: stt, tempDir: tempDir, logger: logger}, nil
}

// Download fetches the media into a temporary file. It returns false and
// leaves nothing behind on failure.
func (s *AudioService) Download(ctx context.Context, mediaID string) (*AudioFile, bool) {
	f, err := os.CreateTemp(s.tempDir, "voice-*.ogg")
	if err != nil {
		s.logger.ErrorContext(ctx, "create temp audio file", "media_id", mediaID, "err", err)
		return nil, false
	}

	err = s.media.DownloadMedia(ctx, mediaID, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		s.logger.ErrorContext(ctx, "audio download failed", "media_id", mediaID, "code", ErrorUpstream, "err", err)
		return nil, false
	}
	return &AudioFile{path: f.Name()}, true
}

// Transcribe converts the file to text and always deletes it.
func (s *AudioService) Transcribe(ctx context.Context, audio *AudioFile) (string, bool) {
	if audio == nil {
		return "", false
	}
	defer func() {
		if err := os.Remove(audio.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WarnContext(ctx, "remove temp audio file", "path", audio.path, "err", err)
		}
	}()

	f, err := os.Open(audio.path)
	if err != nil {
		s.logger.ErrorContext(ctx, "open temp audio file", "path", audio.path, "err", err)
		return "", false
	}
	defer func() { _ = f.Close() }()

	text, err := s.stt.Transcribe(ctx, f)
	if err != nil {
		s.logger.ErrorContext(ctx, "transcription failed", "code", ErrorUpstream, "err", err)
		return "", false
	}
	return text, true
}

// MessageBody runs the whole voice path and returns the text to forward to
// the assistant: the prefixed transcript, or one of the two fallbacks with
// ok set to false.
func (s *AudioService) MessageBody(ctx context.Context, mediaID string) (body string, ok bool) {
	audio, ok := s.Download(ctx, mediaID)
	if !ok {
		return FallbackAudioNotReceived, false
	}
	text, ok := s.Transcribe(ctx, audio)
	if !ok {
		return FallbackAudioNotUnderstood, false
	}
	return transcriptPrefix + text, true
}
