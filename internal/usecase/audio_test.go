package usecase

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newAudioService(t *testing.T, media *fakeMedia, stt *fakeTranscriber) (*AudioService, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewAudioService(media, stt, dir, discardLogger())
	require.NoError(t, err)
	return s, dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temporary audio files must not leak")
}

func TestNewAudioService_ValidatesDependencies(t *testing.T) {
	_, err := NewAudioService(nil, &fakeTranscriber{}, "", nil)
	require.Error(t, err)
	_, err = NewAudioService(&fakeMedia{}, nil, "", nil)
	require.Error(t, err)
}

func TestMessageBody_Transcribed(t *testing.T) {
	media := &fakeMedia{data: "OggS-voice"}
	stt := &fakeTranscriber{text: "je voudrais réserver"}
	s, dir := newAudioService(t, media, stt)

	body, ok := s.MessageBody(context.Background(), "media-1")
	require.True(t, ok)
	require.Equal(t, "[Message vocal transcrit] je voudrais réserver", body)
	require.Equal(t, "OggS-voice", stt.got)
	requireEmptyDir(t, dir)
}

func TestMessageBody_DownloadFailure(t *testing.T) {
	stt := &fakeTranscriber{text: "unused"}
	s, dir := newAudioService(t, &fakeMedia{err: errors.New("404")}, stt)

	body, ok := s.MessageBody(context.Background(), "media-1")
	require.False(t, ok)
	require.Equal(t, FallbackAudioNotReceived, body)
	require.Zero(t, stt.calls)
	requireEmptyDir(t, dir)
}

func TestMessageBody_TranscriptionFailure(t *testing.T) {
	s, dir := newAudioService(t, &fakeMedia{data: "OggS"}, &fakeTranscriber{err: errUpstream})

	body, ok := s.MessageBody(context.Background(), "media-1")
	require.False(t, ok)
	require.Equal(t, FallbackAudioNotUnderstood, body)
	requireEmptyDir(t, dir)
}

func TestDownload_KeepsFileUntilTranscribed(t *testing.T) {
	s, dir := newAudioService(t, &fakeMedia{data: "OggS"}, &fakeTranscriber{text: "ok"})

	audio, ok := s.Download(context.Background(), "media-1")
	require.True(t, ok)
	require.FileExists(t, audio.Path())
	require.Equal(t, ".ogg", audio.Path()[len(audio.Path())-4:])

	text, ok := s.Transcribe(context.Background(), audio)
	require.True(t, ok)
	require.Equal(t, "ok", text)
	require.NoFileExists(t, audio.Path())
	requireEmptyDir(t, dir)
}

func TestTranscribe_MissingFile(t *testing.T) {
	s, _ := newAudioService(t, &fakeMedia{}, &fakeTranscriber{text: "ok"})

	_, ok := s.Transcribe(context.Background(), &AudioFile{path: "/nonexistent/voice.ogg"})
	require.False(t, ok)
	_, ok = s.Transcribe(context.Background(), nil)
	require.False(t, ok)
}

func TestDownload_BadTempDir(t *testing.T) {
	media := &fakeMedia{data: "OggS"}
	s, err := NewAudioService(media, &fakeTranscriber{}, "/nonexistent/dir", discardLogger())
	require.NoError(t, err)

	_, ok := s.Download(context.Background(), "media-1")
	require.False(t, ok)
	require.Zero(t, media.calls)
}
