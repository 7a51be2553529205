package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// DefaultRemoteTimeout bounds a single call to the inference server.
const DefaultRemoteTimeout = 60 * time.Second

// RemoteConfig configures a RemoteEncoder.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RemoteEncoder implements Encoder against an HTTP inference server that
// hosts the OpenCLIP weights and tokenizer.
type RemoteEncoder struct {
	endpoint string
	apiKey   string
	client   *http.Client

	mu    sync.RWMutex
	model string
}

// NewRemoteEncoder creates a RemoteEncoder from the given config.
func NewRemoteEncoder(cfg RemoteConfig) *RemoteEncoder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteEncoder{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type textRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type imageRequest struct {
	Model string `json:"model"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Data  string `json:"data"`
}

type encodeResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Load asks the server to load the weights and reports the selected device.
func (e *RemoteEncoder) Load(ctx context.Context, req LoadRequest) (LoadInfo, error) {
	var info LoadInfo
	if err := e.post(ctx, "/v1/models/load", req, &info); err != nil {
		return LoadInfo{}, err
	}
	e.mu.Lock()
	e.model = req.Model
	e.mu.Unlock()
	return info, nil
}

// EncodeText sends raw text; tokenization happens server-side.
func (e *RemoteEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	var resp encodeResponse
	if err := e.post(ctx, "/v1/encode/text", textRequest{Model: e.loaded(), Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// EncodeImage sends a preprocessed tensor as little-endian float32, base64 encoded.
func (e *RemoteEncoder) EncodeImage(ctx context.Context, img Tensor) ([]float32, error) {
	buf := make([]byte, 4*len(img.Data))
	for i, v := range img.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	var resp encodeResponse
	err := e.post(ctx, "/v1/encode/image", imageRequest{
		Model: e.loaded(),
		Shape: img.Shape(),
		DType: "float32",
		Data:  base64.StdEncoding.EncodeToString(buf),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// Close releases idle connections to the inference server.
func (e *RemoteEncoder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *RemoteEncoder) loaded() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

func (e *RemoteEncoder) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("encoder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	reqID := middleware.GetReqID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(middleware.RequestIDHeader, reqID)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("encoder: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("encoder: %s returned status %d: %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("encoder: decode response: %w", err)
	}
	return nil
}

var _ Encoder = (*RemoteEncoder)(nil)
