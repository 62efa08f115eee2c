package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/openai"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

// ImageSizes maps the first-frame resolution tier to a provider size.
var ImageSizes = map[string]string{
	"1k": "1024x1024",
	"2k": "1536x1536",
	"4k": "2048x2048",
}

type ImageProvider struct {
	syncStep
	Client openai.Client
}

func (p *ImageProvider) Submit(ctx context.Context, req Request) (Step, error) {
	prompt := str(req.Input, "prompt")
	if style := str(req.Input, "style"); style != "" {
		prompt += "\nStyle: " + style
	}
	if neg := str(req.Input, "negative_prompt"); neg != "" {
		prompt += "\nAvoid: " + neg
	}
	prompt += "\nFraming: a single presenter facing the camera, head and shoulders, neutral background."

	tier := strings.ToLower(str(req.Input, "resolution"))
	size, ok := ImageSizes[tier]
	if !ok {
		return Step{}, &JobError{Message: fmt.Sprintf("unsupported resolution %q", tier)}
	}

	img, err := p.Client.GenerateImage(ctx, openai.ImageRequest{Prompt: prompt, Size: size})
	if err != nil {
		return Step{}, classify(err)
	}
	out := map[string]any{"resolution": tier}
	if img.RevisedPrompt != "" {
		out["revised_prompt"] = img.RevisedPrompt
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Bytes)); err == nil {
		out["width"] = cfg.Width
		out["height"] = cfg.Height
	}
	return Step{
		Done:   true,
		Output: out,
		Assets: []Asset{{Field: "image_url", Data: img.Bytes, ContentType: img.MimeType}},
	}, nil
}

const scriptSystemPrompt = `You write scripts for a single presenter speaking straight to camera.
Return only the words to be spoken: no stage directions, headings, speaker labels or markdown.`

type ScriptProvider struct {
	syncStep
	Client         openai.Client
	CharsPerSecond int
}

func (p *ScriptProvider) Submit(ctx context.Context, req Request) (Step, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\n", str(req.Input, "topic"))
	if n := int(num(req.Input, "target_chars")); n > 0 {
		fmt.Fprintf(&user, "Length: about %d characters.\n", n)
	}
	if tone := str(req.Input, "tone"); tone != "" {
		fmt.Fprintf(&user, "Tone: %s\n", tone)
	}
	if extra := str(req.Input, "instructions"); extra != "" {
		fmt.Fprintf(&user, "Additional instructions: %s\n", extra)
	}

	text, err := p.Client.GenerateText(ctx, scriptSystemPrompt, user.String())
	if err != nil {
		return Step{}, classify(err)
	}
	text = strings.TrimSpace(text)
	out := stages.TextMetrics(text, p.CharsPerSecond)
	out["text"] = text
	return Step{Done: true, Output: out}, nil
}

type SpeechProvider struct {
	syncStep
	Client         openai.Client
	CharsPerSecond int
}

func (p *SpeechProvider) Submit(ctx context.Context, req Request) (Step, error) {
	text := str(req.Input, "text")
	sp, err := p.Client.GenerateSpeech(ctx, openai.SpeechRequest{Text: text, Voice: str(req.Input, "voice_id")})
	if err != nil {
		return Step{}, classify(err)
	}
	metrics := stages.TextMetrics(text, p.CharsPerSecond)
	duration, ok := wavDuration(sp.Bytes)
	if !ok {
		duration = float64(metrics["estimated_duration"].(int))
	}
	return Step{
		Done: true,
		Output: map[string]any{
			"voice_id":         str(req.Input, "voice_id"),
			"char_count":       metrics["char_count"],
			"duration_seconds": duration,
		},
		Assets: []Asset{{Field: "audio_url", Data: sp.Bytes, ContentType: sp.MimeType}},
	}, nil
}

// classify turns 4xx answers into job failures; everything else stays a
// transport error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		if code := sc.HTTPStatusCode(); code >= 400 && code < 500 && code != 408 && code != 429 {
			return &JobError{Message: openai.ErrorMessage(err)}
		}
	}
	return err
}
