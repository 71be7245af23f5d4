package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/retry"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

var _ port.Generator = (*OllamaGenerator)(nil)

// OllamaGenerator talks to a local Ollama server through /api/chat.
type OllamaGenerator struct {
	client  *http.Client
	baseURL string
	model   string
	policy  retry.Policy
	logger  *zap.Logger
}

// chatRequest is the Ollama /api/chat request format.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

// options holds generation parameters.
type options struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one /api/chat response object; streaming sends one per line.
type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// NewOllamaGenerator creates a generator for the configured chat model. The
// HTTP client carries no timeout; every call is bounded by its context.
func NewOllamaGenerator(cfg config.OllamaConfig, policy retry.Policy, logger *zap.Logger) (*OllamaGenerator, error) {
	if cfg.BaseURL == "" || cfg.LLMModel == "" {
		return nil, domain.Errorf(domain.KindProviderUnavailable, "new ollama generator", "OLLAMA_BASE_URL and OLLAMA_LLM_MODEL are required")
	}
	return &OllamaGenerator{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.LLMModel,
		policy:  policy,
		logger:  logging.OrNop(logger),
	}, nil
}

func (g *OllamaGenerator) request(req port.GenerateRequest, stream bool) ([]byte, error) {
	temp := req.Temperature
	body := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Stream:  stream,
		Options: &options{NumPredict: req.MaxTokens, Temperature: &temp},
	}
	return json.Marshal(body)
}

// post sends the chat request, retrying transient failures until a 2xx
// response arrives. The caller owns the returned body.
func (g *OllamaGenerator) post(ctx context.Context, op string, payload []byte) (*http.Response, error) {
	var resp *http.Response
	err := retry.Do(ctx, g.policy, g.logger, op, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		r, err := g.client.Do(httpReq)
		if err != nil {
			return err
		}
		if err := retry.CheckStatus(r); err != nil {
			r.Body.Close()
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, retry.Classify(ctx, op, domain.KindGenerationTimeout, err)
	}
	return resp, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.Generation, error) {
	payload, err := g.request(req, false)
	if err != nil {
		return port.Generation{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := g.post(ctx, "ollama generate", payload)
	if err != nil {
		return port.Generation{}, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return port.Generation{}, retry.Classify(ctx, "ollama generate", domain.KindGenerationTimeout, fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		return port.Generation{}, domain.Errorf(domain.KindProviderUnavailable, "ollama generate", "%s", chatResp.Error)
	}

	g.logger.Debug("generation complete", zap.String("model", g.model), zap.Int("chars", len(chatResp.Message.Content)))
	return port.Generation{Text: chatResp.Message.Content, Model: g.model}, nil
}

func (g *OllamaGenerator) Stream(ctx context.Context, req port.GenerateRequest) (<-chan domain.StreamEvent, error) {
	payload, err := g.request(req, true)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := g.post(ctx, "ollama stream", payload)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				finish(ctx, events, domain.StreamEvent{Err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}
			if chunk.Error != "" {
				finish(ctx, events, domain.StreamEvent{
					Err: domain.Errorf(domain.KindProviderUnavailable, "ollama stream", "%s", chunk.Error),
				})
				return
			}
			if chunk.Message.Content != "" {
				if !emit(ctx, events, domain.StreamEvent{Token: chunk.Message.Content}) {
					finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "ollama stream", domain.KindGenerationTimeout, ctx.Err())})
					return
				}
			}
			if chunk.Done {
				finish(ctx, events, domain.StreamEvent{Done: true})
				return
			}
		}

		err := scanner.Err()
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("stream ended before completion")
		}
		finish(ctx, events, domain.StreamEvent{Err: retry.Classify(ctx, "ollama stream", domain.KindGenerationTimeout, err)})
	}()
	return events, nil
}

func (g *OllamaGenerator) ModelName() string {
	return g.model
}

// emit delivers ev unless ctx ends first.
func emit(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish delivers the terminal event. When ctx has ended it only uses spare
// buffer space, since the consumer may have stopped reading.
func finish(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) {
	if ctx.Err() == nil {
		emit(ctx, ch, ev)
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
