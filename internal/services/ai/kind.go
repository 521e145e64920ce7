package ai

import "fmt"

// Kind identifies a generation backend.
type Kind int

const (
	KindOpenAI Kind = iota
	KindGroq
	KindPerplexity
	KindTogether
	KindOllama
	KindBedrock
	KindFal
	KindHuggingFace
	KindComfyUI
)

// Kinds lists every backend in declaration order.
var Kinds = []Kind{
	KindOpenAI, KindGroq, KindPerplexity, KindTogether, KindOllama,
	KindBedrock, KindFal, KindHuggingFace, KindComfyUI,
}

func (k Kind) String() string {
	switch k {
	case KindOpenAI:
		return "openai"
	case KindGroq:
		return "groq"
	case KindPerplexity:
		return "perplexity"
	case KindTogether:
		return "together"
	case KindOllama:
		return "ollama"
	case KindBedrock:
		return "bedrock"
	case KindFal:
		return "fal"
	case KindHuggingFace:
		return "huggingface"
	case KindComfyUI:
		return "comfyui"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// defaultBaseURL is the public endpoint for hosted backends. Self-hosted ones
// (Ollama, ComfyUI) and SDK-managed ones return "".
func defaultBaseURL(k Kind) string {
	switch k {
	case KindOpenAI:
		return "https://api.openai.com/v1"
	case KindGroq:
		return "https://api.groq.com/openai/v1"
	case KindPerplexity:
		return "https://api.perplexity.ai"
	case KindTogether:
		return "https://api.together.xyz/v1"
	case KindFal:
		return "https://fal.run"
	case KindHuggingFace:
		return "https://api-inference.huggingface.co"
	case KindOllama, KindBedrock, KindComfyUI:
		return ""
	default:
		return ""
	}
}
