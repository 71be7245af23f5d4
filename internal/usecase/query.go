package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/adapter/logging"
	"nexqa/internal/adapter/prompt"
	"nexqa/internal/adapter/retriever"
	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// GeneratorSource resolves the language model serving a request mode.
type GeneratorSource interface {
	For(mode domain.Mode) (port.Generator, error)
}

// QueryUseCase runs the retrieve, rerank, prompt and generate pipeline.
type QueryUseCase struct {
	cfg        *config.Config
	retriever  port.Retriever
	stage      *retriever.Stage
	router     *prompt.Router
	generators GeneratorSource
	counter    port.TokenCounter
	assembler  *Assembler
	observer   Observer
	logger     *zap.Logger
}

// QueryOption customizes a QueryUseCase.
type QueryOption func(*QueryUseCase)

// WithQueryObserver reports query outcomes to o.
func WithQueryObserver(o Observer) QueryOption {
	return func(u *QueryUseCase) { u.observer = o }
}

// NewQueryUseCase creates a new query use case. cfg is read, never written.
func NewQueryUseCase(
	cfg *config.Config,
	retriever port.Retriever,
	stage *retriever.Stage,
	router *prompt.Router,
	generators GeneratorSource,
	counter port.TokenCounter,
	logger *zap.Logger,
	opts ...QueryOption,
) *QueryUseCase {
	u := &QueryUseCase{
		cfg:        cfg,
		retriever:  retriever,
		stage:      stage,
		router:     router,
		generators: generators,
		counter:    counter,
		observer:   NopObserver{},
		logger:     logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.assembler = NewAssembler(u.observer, u.logger)
	return u
}

// prepared is a request after retrieval and prompt construction.
type prepared struct {
	prompt  domain.PromptContext
	chunks  []domain.ScoredChunk
	applied bool
}

// Query answers req. With req.Stream set the answer is collected from a
// token stream; use QueryStream to observe the tokens.
func (u *QueryUseCase) Query(ctx context.Context, req domain.QueryRequest) (domain.Answer, error) {
	if req.Stream {
		return u.QueryStream(ctx, req, nil)
	}
	return u.run(ctx, req, nil)
}

// QueryStream answers req from a token stream, handing every token to
// onToken as it arrives. Cancelling ctx aborts the generation; tokens already
// delivered stay with the caller. On a deadline the returned error carries
// the partial text.
func (u *QueryUseCase) QueryStream(ctx context.Context, req domain.QueryRequest, onToken func(string)) (domain.Answer, error) {
	req.Stream = true
	if onToken == nil {
		onToken = func(string) {}
	}
	return u.run(ctx, req, onToken)
}

func (u *QueryUseCase) run(ctx context.Context, req domain.QueryRequest, onToken func(string)) (domain.Answer, error) {
	env := Envelope{
		RequestID: uuid.NewString(),
		Start:     u.assembler.now(),
		Type:      req.Type,
		Mode:      u.resolveMode(req.Mode),
		UserID:    req.UserID,
	}

	p, gen, err := u.prepare(ctx, req)
	if err != nil {
		u.assembler.Fail(env, err)
		return domain.Answer{}, err
	}
	env.Model = gen.ModelName()

	greq := port.GenerateRequest{
		System:      p.prompt.System,
		User:        p.prompt.User,
		Temperature: u.temperature(req),
		MaxTokens:   u.cfg.Generation.MaxTokens,
	}
	timeout := u.timeoutFor(req)

	u.logger.Debug("generating",
		zap.String("request_id", env.RequestID),
		zap.String("query_type", req.Type.String()),
		zap.String("model", env.Model),
		zap.Int("context_chunks", len(p.chunks)),
		zap.Bool("reranked", p.applied),
		zap.Duration("timeout", timeout))

	var text string
	if onToken != nil {
		text, err = u.stream(ctx, gen, greq, timeout, onToken)
	} else {
		text, err = u.generate(ctx, gen, greq, timeout)
	}
	if err != nil {
		u.assembler.Fail(env, err)
		return domain.Answer{}, err
	}

	return u.assembler.Assemble(env, text, p.chunks), nil
}

// Prompt runs retrieval and prompt construction without calling a model.
func (u *QueryUseCase) Prompt(ctx context.Context, req domain.QueryRequest) (domain.PromptContext, []domain.ScoredChunk, error) {
	p, err := u.preparePrompt(ctx, req)
	if err != nil {
		return domain.PromptContext{}, nil, err
	}
	return p.prompt, p.chunks, nil
}

// Search returns the chunks nearest to query without generation.
func (u *QueryUseCase) Search(ctx context.Context, userID, query string, topK int) ([]domain.ScoredChunk, error) {
	const op = "search"
	if err := ValidateUserID(op, userID); err != nil {
		return nil, err
	}
	if isBlank(query) {
		return nil, domain.Errorf(domain.KindValidation, op, "query text is required")
	}
	k, err := u.resolveTopK(op, topK)
	if err != nil {
		return nil, err
	}
	return u.retriever.Retrieve(ctx, userID, strings.TrimSpace(query), k)
}

func (u *QueryUseCase) prepare(ctx context.Context, req domain.QueryRequest) (*prepared, port.Generator, error) {
	if err := u.validate(req); err != nil {
		return nil, nil, err
	}
	gen, err := u.generators.For(req.Mode)
	if err != nil {
		return nil, nil, err
	}
	p, err := u.preparePrompt(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return p, gen, nil
}

func (u *QueryUseCase) preparePrompt(ctx context.Context, req domain.QueryRequest) (*prepared, error) {
	if err := u.validate(req); err != nil {
		return nil, err
	}
	topK, err := u.resolveTopK("query", req.TopK)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)

	candidates, err := u.retrieve(ctx, req.UserID, query, topK)
	if err != nil {
		return nil, err
	}

	selected, applied := u.stage.Select(ctx, query, candidates, u.cfg.Retrieve.ContextWindow, req.UseReranking)
	if req.UseReranking && !applied && len(candidates) > 0 {
		u.observer.RerankFallback()
	}

	block, used := u.buildContext(selected)
	pc, err := u.router.Route(req.Type, query, block)
	if err != nil {
		return nil, err
	}

	return &prepared{prompt: pc, chunks: used, applied: applied}, nil
}

// retrieve searches the user's collection, retrying once with the fallback
// query when nothing matched.
func (u *QueryUseCase) retrieve(ctx context.Context, userID, query string, k int) ([]domain.ScoredChunk, error) {
	results, err := u.retriever.Retrieve(ctx, userID, query, k)
	if err != nil {
		return nil, err
	}
	fallback := u.cfg.Retrieve.FallbackQuery
	if len(results) > 0 || fallback == "" || strings.EqualFold(fallback, query) {
		return results, nil
	}

	u.logger.Debug("no matches, retrying with fallback query",
		zap.String("user_id", userID),
		zap.String("fallback", fallback))
	return u.retriever.Retrieve(ctx, userID, fallback, k)
}

// buildContext numbers the chunks with their source names and stops before
// the token budget is exceeded. The first chunk is always kept.
func (u *QueryUseCase) buildContext(chunks []domain.ScoredChunk) (string, []domain.ScoredChunk) {
	budget := u.cfg.Generation.MaxContextTokens
	var b strings.Builder
	used := make([]domain.ScoredChunk, 0, len(chunks))
	tokens := 0

	for i, c := range chunks {
		block := fmt.Sprintf("[%d] %s\n%s", i+1, SourceName(c.Chunk), strings.TrimSpace(c.Chunk.Text))
		n := u.counter.CountTokens(block)
		if i > 0 && budget > 0 && tokens+n > budget {
			u.logger.Debug("context budget reached",
				zap.Int("budget", budget),
				zap.Int("kept", len(used)),
				zap.Int("dropped", len(chunks)-len(used)))
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		tokens += n
		used = append(used, c)
	}
	return b.String(), used
}

func (u *QueryUseCase) generate(ctx context.Context, gen port.Generator, req port.GenerateRequest, timeout time.Duration) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := gen.Generate(gctx, req)
	if err != nil {
		return "", u.timeoutError(ctx, gctx, err, timeout, "")
	}
	return out.Text, nil
}

func (u *QueryUseCase) stream(ctx context.Context, gen port.Generator, req port.GenerateRequest, timeout time.Duration, onToken func(string)) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := gen.Stream(gctx, req)
	if err != nil {
		return "", u.timeoutError(ctx, gctx, err, timeout, "")
	}

	var b strings.Builder
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return b.String(), nil
			}
			if ev.Err != nil {
				return "", u.timeoutError(ctx, gctx, ev.Err, timeout, b.String())
			}
			if ev.Token != "" {
				b.WriteString(ev.Token)
				onToken(ev.Token)
			}
			if ev.Done {
				return b.String(), nil
			}
		case <-gctx.Done():
			return "", u.timeoutError(ctx, gctx, gctx.Err(), timeout, b.String())
		}
	}
}

// timeoutError turns an expired generation deadline into GenerationTimeout
// with the partial text. A cancelled parent context is returned as is.
func (u *QueryUseCase) timeoutError(parent, gctx context.Context, err error, timeout time.Duration, partial string) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(gctx.Err(), context.DeadlineExceeded) || errors.Is(err, domain.ErrGenerationTimeout) {
		return &domain.Error{
			Kind:    domain.KindGenerationTimeout,
			Op:      "generate",
			Msg:     fmt.Sprintf("no complete answer within %s", timeout),
			Err:     err,
			Partial: partial,
		}
	}
	return domain.Wrap(domain.KindProviderUnavailable, "generate", err)
}

func (u *QueryUseCase) validate(req domain.QueryRequest) error {
	const op = "query"
	if err := ValidateUserID(op, req.UserID); err != nil {
		return err
	}
	if isBlank(req.Query) {
		return domain.Errorf(domain.KindValidation, op, "query text is required")
	}
	if !req.Type.Valid() {
		return domain.Errorf(domain.KindValidation, op, "unknown query type %d", int(req.Type))
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return domain.Errorf(domain.KindValidation, op, "temperature must be between 0 and 2, got %g", *req.Temperature)
	}
	if req.Timeout < 0 {
		return domain.Errorf(domain.KindValidation, op, "timeout must not be negative")
	}
	switch req.Mode {
	case domain.ModeDefault, domain.ModeOffline, domain.ModeOnline:
	default:
		return domain.Errorf(domain.KindValidation, op, "unknown mode %q", req.Mode)
	}
	return nil
}

// resolveTopK applies the default for zero and caps at the configured maximum.
func (u *QueryUseCase) resolveTopK(op string, k int) (int, error) {
	switch {
	case k < 0:
		return 0, domain.Errorf(domain.KindValidation, op, "top_k must be positive, got %d", k)
	case k == 0:
		return u.cfg.Retrieve.TopK, nil
	case k > u.cfg.Retrieve.MaxTopK:
		return u.cfg.Retrieve.MaxTopK, nil
	}
	return k, nil
}

func (u *QueryUseCase) resolveMode(mode domain.Mode) domain.Mode {
	if mode != domain.ModeDefault {
		return mode
	}
	if u.cfg.Provider == config.ProviderAzure {
		return domain.ModeOnline
	}
	return domain.ModeOffline
}

func (u *QueryUseCase) temperature(req domain.QueryRequest) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	if u.resolveMode(req.Mode) == domain.ModeOnline {
		return u.cfg.Azure.Temperature
	}
	return u.cfg.Ollama.Temperature
}

// timeoutFor picks the generation budget: validation calls get the long
// budget, automation the codegen one. A request timeout wins.
func (u *QueryUseCase) timeoutFor(req domain.QueryRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	switch req.Type {
	case domain.QueryValidate:
		return u.cfg.Generation.LongTimeout.Std()
	case domain.QueryAutomation:
		return u.cfg.Generation.CodegenTimeout.Std()
	default:
		return u.cfg.Generation.Timeout.Std()
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
