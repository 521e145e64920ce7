package ai

import (
	"context"
	"io"

	"github.com/genai-tgbot-go/internal/models"
)

// Chunk is one fragment of a streamed answer. A non-nil Err ends the stream.
type Chunk struct {
	Text string
	Err  error
}

// Image is a generated picture, either hosted (URL) or inline (Data).
type Image struct {
	URL         string
	Data        []byte
	ContentType string
}

// ChatStreamer streams a chat completion. The returned channel is closed
// when the answer is complete.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []models.Message) (<-chan Chunk, error)
}

// VisionStreamer streams an answer about an image.
type VisionStreamer interface {
	StreamVision(ctx context.Context, prompt string, image []byte, mimeType string) (<-chan Chunk, error)
}

// Completer answers a chat in a single response.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Speaker synthesizes speech and returns OGG/Opus audio.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// send delivers c unless ctx is done.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
