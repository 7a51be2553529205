package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Modalities reported to an Observer.
const (
	ModalityText  = "text"
	ModalityImage = "image"
)

// Observer receives one notification per embedding attempt.
type Observer interface {
	ObserveEmbedding(modality string, duration time.Duration, err error)
	EncoderInflight(delta int)
}

// ModelConfig selects the weights and runtime limits of a Model.
type ModelConfig struct {
	Name          string
	Pretrained    string
	Device        string // "auto" lets the encoder pick an accelerator if present
	Workers       int    // max concurrent encoder calls
	FetchTimeout  time.Duration
	MaxImageBytes int64
	Observer      Observer
}

// Info describes a loaded Model. Model and Pretrained echo the configured identifiers.
type Info struct {
	Model      string `json:"model"`
	Pretrained string `json:"pretrained"`
	Device     string `json:"device"`
	Dimension  int    `json:"dimension"`
}

// Model is the shared, read-only embedding handle. It is built once at
// startup and used concurrently by all requests.
type Model struct {
	info       Info
	encoder    Encoder
	preprocess Preprocessor
	fetcher    *Fetcher
	slots      *semaphore.Weighted
	observer   Observer
	logger     *zap.Logger
}

// NewModel loads the pretrained weights through enc. Any error is fatal for the caller.
func NewModel(ctx context.Context, cfg ModelConfig, enc Encoder, logger *zap.Logger) (*Model, error) {
	arch, err := LookupArchitecture(cfg.Name)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	logger.Info("loading model",
		zap.String("model", arch.Name),
		zap.String("pretrained", cfg.Pretrained),
		zap.String("device", cfg.Device),
	)

	start := time.Now()
	loaded, err := enc.Load(ctx, LoadRequest{Model: arch.Name, Pretrained: cfg.Pretrained, Device: cfg.Device})
	if err != nil {
		return nil, fmt.Errorf("load model %s (%s): %w", arch.Name, cfg.Pretrained, err)
	}
	if loaded.Dimension != 0 && loaded.Dimension != arch.Dimension {
		return nil, fmt.Errorf("load model %s: %w: encoder reports %d, want %d",
			arch.Name, ErrDimension, loaded.Dimension, arch.Dimension)
	}
	device := loaded.Device
	if device == "" {
		device = cfg.Device
	}

	m := &Model{
		info: Info{
			Model:      cfg.Name,
			Pretrained: cfg.Pretrained,
			Device:     device,
			Dimension:  arch.Dimension,
		},
		encoder:    enc,
		preprocess: NewPreprocessor(arch),
		fetcher:    NewFetcher(cfg.FetchTimeout, cfg.MaxImageBytes),
		slots:      semaphore.NewWeighted(int64(cfg.Workers)),
		observer:   cfg.Observer,
		logger:     logger,
	}

	logger.Info("model loaded",
		zap.String("device", device),
		zap.Int("dimension", arch.Dimension),
		zap.Int("workers", cfg.Workers),
		zap.Duration("took", time.Since(start)),
	)
	return m, nil
}

// Info returns the model identity and output shape.
func (m *Model) Info() Info { return m.info }

// EmbedText returns the unit-normalized embedding of text.
func (m *Model) EmbedText(ctx context.Context, text string) (vec Vector, err error) {
	defer m.observe(ModalityText, time.Now(), &err)

	raw, err := m.encode(ctx, func(ctx context.Context) ([]float32, error) {
		return m.encoder.EncodeText(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return m.finish(raw)
}

// EmbedImage downloads the image at url and returns its unit-normalized embedding.
func (m *Model) EmbedImage(ctx context.Context, url string) (vec Vector, err error) {
	defer m.observe(ModalityImage, time.Now(), &err)

	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	m.logger.Debug("image decoded",
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("bytes", len(data)),
	)
	tensor := m.preprocess.Preprocess(img)

	raw, err := m.encode(ctx, func(ctx context.Context) ([]float32, error) {
		return m.encoder.EncodeImage(ctx, tensor)
	})
	if err != nil {
		return nil, err
	}
	return m.finish(raw)
}

// Close releases the encoder.
func (m *Model) Close() error {
	return m.encoder.Close()
}

// encode runs fn while holding one of the worker slots.
func (m *Model) encode(ctx context.Context, fn func(context.Context) ([]float32, error)) ([]float32, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for encoder: %w", err)
	}
	defer m.slots.Release(1)

	if m.observer != nil {
		m.observer.EncoderInflight(1)
		defer m.observer.EncoderInflight(-1)
	}
	return fn(ctx)
}

func (m *Model) finish(raw []float32) (Vector, error) {
	if len(raw) != m.info.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(raw), m.info.Dimension)
	}
	return Normalize(raw)
}

func (m *Model) observe(modality string, start time.Time, err *error) {
	if m.observer == nil {
		return
	}
	m.observer.ObserveEmbedding(modality, time.Since(start), *err)
}
