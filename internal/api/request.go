package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxQueryLength = 5000
	maxURLLength   = 2083
	maxBodyBytes   = 1 << 20
)

// TextEmbedRequest is the body of POST /embed-text.
type TextEmbedRequest struct {
	Query *string `json:"query" validate:"required,min=1,max=5000"`
}

// ImageEmbedRequest is the body of POST /embed-image.
type ImageEmbedRequest struct {
	URL *string `json:"url" validate:"required,max=2083,http_url"`
}

// EmbeddingResponse is returned by both embedding endpoints.
type EmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// FieldError is one entry of a 422 response.
type FieldError struct {
	Loc   []string `json:"loc"`
	Msg   string   `json:"msg"`
	Type  string   `json:"type"`
	Input any      `json:"input,omitempty"`
}

// ValidationError collects every problem found in a request body.
type ValidationError struct {
	Detail []FieldError `json:"detail"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Detail))
	for i, d := range e.Detail {
		parts[i] = strings.Join(d.Loc, ".") + ": " + d.Msg
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody parses and validates a JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return jsonError(err)
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			out.Detail = append(out.Detail, fieldError(fe))
		}
		return out
	}
	return nil
}

func jsonError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return &ValidationError{Detail: []FieldError{{
			Loc: []string{"body"}, Msg: "Field required", Type: "missing",
		}}}
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return &ValidationError{Detail: []FieldError{{
				Loc: []string{"body"}, Msg: "Input should be a valid dictionary or object", Type: "model_attributes_type",
			}}}
		}
		return &ValidationError{Detail: []FieldError{{
			Loc:  []string{"body", typeErr.Field},
			Msg:  fmt.Sprintf("Input should be a valid %s", typeErr.Type.Kind()),
			Type: typeErr.Type.Kind().String() + "_type",
		}}}
	case errors.As(err, &maxErr):
		return maxErr
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return &ValidationError{Detail: []FieldError{{
			Loc: []string{"body"}, Msg: "JSON decode error", Type: "json_invalid",
		}}}
	default:
		return &ValidationError{Detail: []FieldError{{
			Loc: []string{"body"}, Msg: err.Error(), Type: "model_attributes_type",
		}}}
	}
}

func fieldError(fe validator.FieldError) FieldError {
	out := FieldError{Loc: []string{"body", fe.Field()}, Input: fe.Value()}
	if s, ok := fe.Value().(*string); ok {
		if s == nil {
			out.Input = nil
		} else {
			out.Input = *s
		}
	}

	switch fe.Tag() {
	case "required":
		out.Msg, out.Type = "Field required", "missing"
	case "min":
		out.Msg = fmt.Sprintf("String should have at least %s character%s", fe.Param(), plural(fe.Param()))
		out.Type = "string_too_short"
	case "max":
		out.Msg = fmt.Sprintf("String should have at most %s character%s", fe.Param(), plural(fe.Param()))
		out.Type = "string_too_long"
	case "http_url":
		out.Msg, out.Type = "Input should be a valid URL", "url_parsing"
	default:
		out.Msg, out.Type = fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Tag()
	}
	return out
}

func plural(n string) string {
	if n == "1" {
		return ""
	}
	return "s"
}

// normalizeURL returns the canonical form of an already validated absolute URL.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
