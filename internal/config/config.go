package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModelName     = "ViT-B-32"
	DefaultPretrained    = "laion2b_s34b_b79k"
	DefaultWorkers       = 4
	DefaultPort          = 8000
	DefaultLogLevel      = "info"
	DefaultDevice        = "auto"
	DefaultBackend       = "remote"
	DefaultFetchTimeout  = 30 * time.Second
	DefaultShutdown      = 10 * time.Second
	DefaultMaxImageBytes = 20 << 20
)

// ErrMissingAuthToken is returned by Load when AUTH_TOKEN is not set.
var ErrMissingAuthToken = errors.New("config: AUTH_TOKEN is required")

// ErrMissingEndpoint is returned when the default remote backend has no
// inference server to talk to.
var ErrMissingEndpoint = errors.New("required when ENCODER_BACKEND=remote (the default); set ENCODER_ENDPOINT or use ENCODER_BACKEND=hash")

// Error reports an invalid configuration value.
type Error struct {
	Name  string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: invalid %s=%q: %v", e.Name, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Settings is the process-wide configuration. It is built once by Load and
// never mutated afterwards.
type Settings struct {
	AuthToken  string
	ModelName  string
	Pretrained string
	Workers    int

	Server  ServerSettings
	Encoder EncoderSettings
	Metrics MetricsSettings
	Health  HealthSettings
}

type ServerSettings struct {
	Port            int
	LogLevel        string
	ShutdownTimeout time.Duration
}

type EncoderSettings struct {
	Backend       string // "remote" or "hash"
	Endpoint      string
	APIKey        string
	Device        string
	FetchTimeout  time.Duration
	MaxImageBytes int64
}

type MetricsSettings struct {
	// Addr serves /metrics on a dedicated listener. Empty mounts it on the API router.
	Addr string
}

type HealthSettings struct {
	// GRPCAddr enables the grpc.health.v1 service. Empty disables it.
	GRPCAddr string
}

// Addr returns the listen address for the API server.
func (s ServerSettings) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// Load reads settings from the process environment, falling back to values
// found in envFile. Variable names are matched case-insensitively and the
// process environment wins over the file. A missing envFile is not an error.
func Load(envFile string) (*Settings, error) {
	env, err := readEnv(envFile)
	if err != nil {
		return nil, err
	}
	return FromMap(env)
}

// FromMap builds Settings from a name→value map. Names are matched
// case-insensitively.
func FromMap(vars map[string]string) (*Settings, error) {
	env := make(lookup, len(vars))
	for k, v := range vars {
		env[strings.ToUpper(k)] = v
	}

	var err error
	s := &Settings{
		AuthToken:  env.str("AUTH_TOKEN", ""),
		ModelName:  env.str("MODEL_NAME", DefaultModelName),
		Pretrained: env.str("PRETRAINED", DefaultPretrained),
		Server: ServerSettings{
			LogLevel: env.str("LOG_LEVEL", DefaultLogLevel),
		},
		Encoder: EncoderSettings{
			Backend:  strings.ToLower(env.str("ENCODER_BACKEND", DefaultBackend)),
			Endpoint: strings.TrimRight(env.str("ENCODER_ENDPOINT", ""), "/"),
			APIKey:   env.str("ENCODER_API_KEY", ""),
			Device:   strings.ToLower(env.str("DEVICE", DefaultDevice)),
		},
		Metrics: MetricsSettings{Addr: env.str("METRICS_ADDR", "")},
		Health:  HealthSettings{GRPCAddr: env.str("GRPC_HEALTH_ADDR", "")},
	}

	if s.AuthToken == "" {
		return nil, ErrMissingAuthToken
	}

	if s.Workers, err = env.integer("WORKERS", DefaultWorkers); err != nil {
		return nil, err
	}
	if s.Workers < 1 {
		return nil, &Error{Name: "WORKERS", Value: strconv.Itoa(s.Workers), Err: errors.New("must be at least 1")}
	}
	if s.Server.Port, err = env.integer("PORT", DefaultPort); err != nil {
		return nil, err
	}
	if s.Server.ShutdownTimeout, err = env.duration("SHUTDOWN_TIMEOUT", DefaultShutdown); err != nil {
		return nil, err
	}
	if s.Encoder.FetchTimeout, err = env.duration("FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		return nil, err
	}
	maxBytes, err := env.integer("MAX_IMAGE_BYTES", DefaultMaxImageBytes)
	if err != nil {
		return nil, err
	}
	s.Encoder.MaxImageBytes = int64(maxBytes)

	switch s.Encoder.Backend {
	case "remote":
		if s.Encoder.Endpoint == "" {
			return nil, &Error{Name: "ENCODER_ENDPOINT", Err: ErrMissingEndpoint}
		}
	case "hash":
	default:
		return nil, &Error{Name: "ENCODER_BACKEND", Value: s.Encoder.Backend, Err: errors.New(`must be "remote" or "hash"`)}
	}

	return s, nil
}

// readEnv merges envFile (if present) with the process environment.
func readEnv(envFile string) (map[string]string, error) {
	merged := make(map[string]string)

	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, v := range fileVars {
				merged[strings.ToUpper(k)] = v
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		merged[strings.ToUpper(k)] = v
	}
	return merged, nil
}

type lookup map[string]string

func (l lookup) str(name, def string) string {
	if v := strings.TrimSpace(l[name]); v != "" {
		return v
	}
	return def
}

func (l lookup) integer(name string, def int) (int, error) {
	raw := strings.TrimSpace(l[name])
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Name: name, Value: raw, Err: err}
	}
	return n, nil
}

// duration accepts Go duration strings ("30s") or a bare number of seconds.
func (l lookup) duration(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(l[name])
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0, &Error{Name: name, Value: raw, Err: errors.New("must be positive")}
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &Error{Name: name, Value: raw, Err: err}
	}
	if d <= 0 {
		return 0, &Error{Name: name, Value: raw, Err: errors.New("must be positive")}
	}
	return d, nil
}
