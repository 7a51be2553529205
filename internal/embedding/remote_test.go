package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeInferenceServer mocks the /v1 inference API.
func fakeInferenceServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	checkAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id header")
		}
		return true
	}
	mux.HandleFunc("/v1/models/load", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		var req LoadRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "ViT-B-32" || req.Pretrained != "laion2b_s34b_b79k" {
			http.Error(w, "unknown weights", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(LoadInfo{Device: "cuda", Dimension: 4})
	})
	mux.HandleFunc("/v1/encode/text", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		var req textRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "ViT-B-32" || req.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(encodeResponse{Embedding: []float32{0.1, 0.2, 0.3, 0.4}})
	})
	mux.HandleFunc("/v1/encode/image", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		var req imageRequest
		json.NewDecoder(r.Body).Decode(&req)
		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil || req.DType != "float32" || len(req.Shape) != 3 {
			http.Error(w, "bad tensor", http.StatusBadRequest)
			return
		}
		if len(raw) != 4*req.Shape[0]*req.Shape[1]*req.Shape[2] {
			http.Error(w, "tensor size mismatch", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(encodeResponse{Embedding: []float32{1, 0, 0, 0}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteEncoderLoadAndEncode(t *testing.T) {
	srv := fakeInferenceServer(t, "k3y")
	enc := NewRemoteEncoder(RemoteConfig{Endpoint: srv.URL, APIKey: "k3y"})
	ctx := context.Background()

	info, err := enc.Load(ctx, LoadRequest{Model: "ViT-B-32", Pretrained: "laion2b_s34b_b79k", Device: "auto"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Device != "cuda" || info.Dimension != 4 {
		t.Errorf("unexpected load info: %+v", info)
	}

	vec, err := enc.EncodeText(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("got %d values, want 4", len(vec))
	}

	img := Tensor{Channels: 3, Height: 2, Width: 2, Data: make([]float32, 12)}
	vec, err = enc.EncodeImage(ctx, img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec[0] != 1 {
		t.Errorf("got %v, want [1 0 0 0]", vec)
	}
}

func TestRemoteEncoderErrorStatus(t *testing.T) {
	srv := fakeInferenceServer(t, "k3y")
	enc := NewRemoteEncoder(RemoteConfig{Endpoint: srv.URL, APIKey: "wrong"})

	_, err := enc.Load(context.Background(), LoadRequest{Model: "ViT-B-32", Pretrained: "laion2b_s34b_b79k"})
	if err == nil {
		t.Fatal("expected error for rejected api key")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestRemoteEncoderUnknownWeights(t *testing.T) {
	srv := fakeInferenceServer(t, "")
	enc := NewRemoteEncoder(RemoteConfig{Endpoint: srv.URL})

	_, err := enc.Load(context.Background(), LoadRequest{Model: "ViT-B-32", Pretrained: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unknown weights") {
		t.Fatalf("got %v, want unknown weights error", err)
	}
}
