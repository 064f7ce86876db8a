package copilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/rashmirrout/pilotdesk/internal/config"
)

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// HTTPClient speaks the OpenAI-compatible chat completions protocol and
// implements Client. It keeps per-session history so sessions are stateful
// from the caller's point of view even though the wire protocol is not.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter // nil = unlimited

	mu       sync.Mutex
	sessions map[string]*session

	hub *toolEventHub

	// OnUsage, when set, receives usage data after every completed call.
	OnUsage func(model string, u Usage)

	// Session lifecycle hooks. OnSessionCreated fires after a session is
	// registered; OnSessionTerminated fires when an existing session is
	// removed. Either may be nil.
	OnSessionCreated    func(sessionID string, opts SessionOptions)
	OnSessionTerminated func(sessionID string)

	// Tracer, when set, wraps SendBlocking and SendStreaming in spans.
	Tracer trace.Tracer

	// knownModels caches ListModels results for fail-fast model checks.
	modelsMu    sync.Mutex
	knownModels map[string]bool
}

type session struct {
	opts    SessionOptions
	history []Message
}

// NewHTTPClient builds a client from chat API settings.
func NewHTTPClient(cfg config.ChatAPIConfig) *HTTPClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		sessions:   make(map[string]*session),
		hub:        newToolEventHub(),
	}
}

func (c *HTTPClient) CreateSession(sessionID string, opts SessionOptions) error {
	if sessionID == "" {
		return fmt.Errorf("copilot: empty session id")
	}
	// Fail fast on unknown model ids when the model list is already cached.
	if opts.Model != "" {
		c.modelsMu.Lock()
		known := c.knownModels
		c.modelsMu.Unlock()
		if known != nil && !known[opts.Model] {
			return fmt.Errorf("%w: %s", ErrUnknownModel, opts.Model)
		}
	}

	c.mu.Lock()
	c.sessions[sessionID] = &session{opts: opts}
	c.mu.Unlock()

	if c.OnSessionCreated != nil {
		c.OnSessionCreated(sessionID, opts)
	}
	return nil
}

func (c *HTTPClient) TerminateSession(sessionID string) error {
	c.mu.Lock()
	_, existed := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if existed && c.OnSessionTerminated != nil {
		c.OnSessionTerminated(sessionID)
	}
	return nil
}

func (c *HTTPClient) SubscribeToolEvents(id string, handler ToolEventHandler) {
	c.hub.subscribe(id, handler)
}

func (c *HTTPClient) UnsubscribeToolEvents(id string) {
	c.hub.unsubscribe(id)
}

// snapshotSession copies the session state needed to build a request.
func (c *HTTPClient) snapshotSession(sessionID string) (*session, []Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	hist := make([]Message, len(s.history))
	copy(hist, s.history)
	return s, hist, nil
}

// appendHistory records an exchange on the session if it still exists.
func (c *HTTPClient) appendHistory(sessionID, prompt, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.history = append(s.history,
			Message{Role: "user", Content: prompt},
			Message{Role: "assistant", Content: reply},
		)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []chatMessage     `json:"messages"`
	Stream   bool              `json:"stream,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *HTTPClient) buildRequest(s *session, history []Message, prompt string, stream bool) chatRequest {
	messages := make([]chatMessage, 0, len(history)+2)
	if s.opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s.opts.SystemPrompt})
	}
	for _, m := range history {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	req := chatRequest{
		Model:    s.opts.Model,
		Messages: messages,
		Stream:   stream,
	}
	// MCP/skill identifiers are forwarded opaquely; the service decides
	// what they mean.
	if len(s.opts.MCPServers) > 0 || len(s.opts.Skills) > 0 {
		req.Metadata = map[string]string{}
		if len(s.opts.MCPServers) > 0 {
			req.Metadata["mcp_servers"] = strings.Join(s.opts.MCPServers, ",")
		}
		if len(s.opts.Skills) > 0 {
			req.Metadata["skills"] = strings.Join(s.opts.Skills, ",")
		}
	}
	return req
}

func (c *HTTPClient) doRequest(ctx context.Context, body chatRequest) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

// tracer returns the configured tracer or a no-op one.
func (c *HTTPClient) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return noop.NewTracerProvider().Tracer("")
}

func (c *HTTPClient) startSpan(ctx context.Context, name, sessionID, model string) (context.Context, trace.Span) {
	return c.tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("chat.session_id", sessionID),
			attribute.String("chat.model", model),
		))
}

func spanFail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *HTTPClient) SendBlocking(ctx context.Context, sessionID, prompt string) (Message, error) {
	s, hist, err := c.snapshotSession(sessionID)
	if err != nil {
		return Message{}, err
	}

	ctx, span := c.startSpan(ctx, "chat.send_blocking", sessionID, s.opts.Model)
	defer span.End()

	body, err := c.doRequest(ctx, c.buildRequest(s, hist, prompt, false))
	if err != nil {
		spanFail(span, err)
		return Message{}, err
	}
	defer body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		err = fmt.Errorf("decode response: %w", err)
		spanFail(span, err)
		return Message{}, err
	}
	if parsed.Error != nil {
		err := fmt.Errorf("chat error: %s", parsed.Error.Message)
		spanFail(span, err)
		return Message{}, err
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("chat response: no choices")
		spanFail(span, err)
		return Message{}, err
	}

	if parsed.Usage != nil {
		span.SetAttributes(attribute.Int("chat.total_tokens", parsed.Usage.TotalTokens))
		if c.OnUsage != nil {
			c.OnUsage(s.opts.Model, *parsed.Usage)
		}
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.appendHistory(sessionID, prompt, content)
	return Message{Role: "assistant", Content: content}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// SendStreaming streams the response. Chunks carry cumulative content; the
// final chunk is the complete, whitespace-trimmed response.
func (c *HTTPClient) SendStreaming(ctx context.Context, sessionID, prompt string) (<-chan Chunk, error) {
	s, hist, err := c.snapshotSession(sessionID)
	if err != nil {
		return nil, err
	}

	ctx, span := c.startSpan(ctx, "chat.send_streaming", sessionID, s.opts.Model)

	body, err := c.doRequest(ctx, c.buildRequest(s, hist, prompt, true))
	if err != nil {
		spanFail(span, err)
		span.End()
		return nil, err
	}

	out := make(chan Chunk, 16)

	go func() {
		defer close(out)
		defer body.Close()
		defer span.End()

		var accumulated strings.Builder
		var lastSent string
		var openToolID string
		var usage *Usage

		send := func(ch Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.ReasoningContent != "" {
				c.hub.emit(ToolEvent{
					SessionID: sessionID,
					Kind:      ReasoningDelta,
					Delta:     delta.ReasoningContent,
					Timestamp: time.Now().UTC(),
				})
			}

			for _, tc := range delta.ToolCalls {
				if tc.ID != "" && tc.Function.Name != "" {
					// New tool call starting; the previous one, if any,
					// is complete.
					if openToolID != "" {
						c.hub.emit(ToolEvent{
							SessionID:  sessionID,
							Kind:       ToolComplete,
							ToolCallID: openToolID,
							Timestamp:  time.Now().UTC(),
						})
					}
					openToolID = tc.ID
					c.hub.emit(ToolEvent{
						SessionID:  sessionID,
						Kind:       ToolStart,
						ToolCallID: tc.ID,
						ToolName:   strings.TrimSpace(tc.Function.Name),
						Timestamp:  time.Now().UTC(),
					})
				}
			}

			if delta.Content != "" {
				accumulated.WriteString(delta.Content)
				lastSent = accumulated.String()
				if !send(Chunk{Content: lastSent}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			err = fmt.Errorf("stream read: %w", err)
			spanFail(span, err)
			send(Chunk{Err: err})
			return
		}
		if ctx.Err() != nil {
			return
		}

		if openToolID != "" {
			c.hub.emit(ToolEvent{
				SessionID:  sessionID,
				Kind:       ToolComplete,
				ToolCallID: openToolID,
				Timestamp:  time.Now().UTC(),
			})
		}

		final := strings.TrimRight(accumulated.String(), " \t\r\n")
		if final != lastSent || lastSent == "" {
			if !send(Chunk{Content: final}) {
				return
			}
		}

		if usage != nil {
			span.SetAttributes(attribute.Int("chat.total_tokens", usage.TotalTokens))
			if c.OnUsage != nil {
				c.OnUsage(s.opts.Model, *usage)
			}
		}
		c.appendHistory(sessionID, prompt, final)
	}()

	return out, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *HTTPClient) ListModels(ctx context.Context) ([]string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("list models: decode: %w", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	known := make(map[string]bool, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
		known[m.ID] = true
	}

	c.modelsMu.Lock()
	c.knownModels = known
	c.modelsMu.Unlock()

	return ids, nil
}
