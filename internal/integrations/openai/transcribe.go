package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Transcribe converts a voice note to text. When audio is an *os.File its
// name (and extension) is forwarded so the provider can detect the codec.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	if audio == nil {
		return "", errors.New("openai: transcribe: audio must not be nil")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	params := openaigo.AudioTranscriptionNewParams{
		File:  audio,
		Model: openaigo.AudioModel(c.transcriptionModel),
	}
	if c.transcriptionLanguage != "" {
		params.Language = openaigo.String(c.transcriptionLanguage)
	}

	resp, err := c.sdk.Audio.Transcriptions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("openai: transcribe: empty transcript")
	}
	return text, nil
}
