package embedding

import (
	"fmt"
	"strings"
)

// OpenAI CLIP normalization constants, shared by every OpenCLIP architecture below.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Architecture holds the preprocessing and output shape of a CLIP model.
type Architecture struct {
	Name      string
	ImageSize int
	Dimension int
	Mean      [3]float32
	Std       [3]float32
}

var architectures = map[string]Architecture{}

func init() {
	for _, a := range []struct {
		name      string
		imageSize int
		dim       int
	}{
		{"ViT-B-32", 224, 512},
		{"ViT-B-16", 224, 512},
		{"ViT-L-14", 224, 768},
		{"ViT-L-14-336", 336, 768},
		{"ViT-H-14", 224, 1024},
		{"ViT-g-14", 224, 1024},
		{"ViT-bigG-14", 224, 1280},
		{"RN50", 224, 1024},
		{"RN101", 224, 512},
	} {
		architectures[strings.ToLower(a.name)] = Architecture{
			Name:      a.name,
			ImageSize: a.imageSize,
			Dimension: a.dim,
			Mean:      clipMean,
			Std:       clipStd,
		}
	}
}

// LookupArchitecture returns the registered architecture for a model name.
// Lookup ignores case.
func LookupArchitecture(name string) (Architecture, error) {
	a, ok := architectures[strings.ToLower(name)]
	if !ok {
		return Architecture{}, fmt.Errorf("%w: %s", ErrUnknownArchitecture, name)
	}
	return a, nil
}
