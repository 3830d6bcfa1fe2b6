package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Request is one call to the generation service.
type Request struct {
	Prompt string
	// JSON asks for a structured object. The reply may still hold prose
	// and must go through ParseObject.
	JSON bool
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Gemini generates with a hosted Gemini model.
type Gemini struct {
	client    *genai.Client
	textModel *genai.GenerativeModel
	jsonModel *genai.GenerativeModel
	logger    *zap.Logger
}

// NewGemini connects to the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	text := client.GenerativeModel(model)
	jsonModel := client.GenerativeModel(model)
	jsonModel.ResponseMIMEType = "application/json"
	return &Gemini{client: client, textModel: text, jsonModel: jsonModel, logger: logger}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// Generate sends one prompt. A model that rejects the JSON response mode is
// asked again in plain text mode.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := g.textModel
	if req.JSON {
		model = g.jsonModel
	}
	text, err := g.generate(ctx, model, req.Prompt)
	if err != nil && req.JSON && rejectsJSONMode(err) {
		g.logger.Warn("structured output rejected, retrying as text", zap.Error(err))
		return g.generate(ctx, g.textModel, req.Prompt)
	}
	return text, err
}

func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text parts", ErrEmptyResponse)
	}
	return b.String(), nil
}

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("no content returned from Gemini")

func rejectsJSONMode(err error) bool {
	msg := ""
	if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
		msg = st.Message()
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 400 {
		msg = gerr.Message + " " + gerr.Body
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "response_mime_type") || strings.Contains(msg, "responsemimetype")
}
