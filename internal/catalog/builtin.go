package catalog

func ptr(f float64) *float64 { return &f }

var aspectRatio = ParamSpec{
	Name:        "aspect_ratio",
	Type:        ParamString,
	Description: "Output aspect ratio",
	Enum:        []string{"1:1", "16:9", "9:16", "4:3", "3:4"},
	Default:     "1:1",
}

var seed = ParamSpec{
	Name:        "seed",
	Type:        ParamInteger,
	Description: "Random seed for reproducible output",
	Min:         ptr(0),
	Max:         ptr(4294967295),
}

// Builtin returns the catalog shipped with the service. A catalog file or the
// S3 override document replaces it wholesale.
func Builtin() []Model {
	return []Model{
		{
			ID:            "flux-schnell",
			Title:         "FLUX.1 [schnell]",
			Provider:      "replicate",
			Capability:    CapabilityImage,
			Enabled:       true,
			CreditCost:    1,
			UpstreamModel: "black-forest-labs/flux-schnell",
			Params: []ParamSpec{aspectRatio, seed, {
				Name: "num_inference_steps", Type: ParamInteger, Min: ptr(1), Max: ptr(4), Default: 4,
			}},
		},
		{
			ID:            "flux-dev",
			Title:         "FLUX.1 [dev]",
			Provider:      "replicate",
			Capability:    CapabilityImage,
			Enabled:       true,
			CreditCost:    3,
			UpstreamModel: "black-forest-labs/flux-dev",
			Params: []ParamSpec{aspectRatio, seed, {
				Name: "guidance", Type: ParamNumber, Min: ptr(0), Max: ptr(10), Default: 3.5,
			}},
		},
		{
			ID:            "flux-kontext-edit",
			Title:         "FLUX.1 Kontext (edit)",
			Provider:      "replicate",
			Capability:    CapabilityEdit,
			Enabled:       true,
			CreditCost:    4,
			RequiresImage: true,
			UpstreamModel: "black-forest-labs/flux-kontext-pro",
			ImageInput:    "input_image",
			MaxOutputs:    4,
			Params:        []ParamSpec{aspectRatio, seed},
		},
		{
			ID:            "flux-pro",
			Title:         "FLUX1.1 [pro]",
			Provider:      "fal",
			Capability:    CapabilityImage,
			Enabled:       true,
			CreditCost:    5,
			UpstreamModel: "fal-ai/flux-pro/v1.1",
			Params: []ParamSpec{seed, {
				Name: "image_size", Type: ParamString, Default: "square_hd",
				Enum: []string{"square_hd", "square", "portrait_4_3", "portrait_16_9", "landscape_4_3", "landscape_16_9"},
			}},
		},
		{
			ID:            "seedance-lite",
			Title:         "Seedance 1.0 Lite",
			Provider:      "fal",
			Capability:    CapabilityVideo,
			Enabled:       true,
			CreditCost:    20,
			UpstreamModel: "fal-ai/bytedance/seedance/v1/lite/text-to-video",
			MaxOutputs:    2,
			Params: []ParamSpec{seed, {
				Name: "duration", Type: ParamString, Enum: []string{"5", "10"}, Default: "5",
			}, {
				Name: "resolution", Type: ParamString, Enum: []string{"480p", "720p"}, Default: "720p",
			}},
		},
		{
			ID:            "kling-image-to-video",
			Title:         "Kling 2.1 (image to video)",
			Provider:      "fal",
			Capability:    CapabilityVideo,
			Enabled:       true,
			CreditCost:    30,
			RequiresImage: true,
			UpstreamModel: "fal-ai/kling-video/v2.1/standard/image-to-video",
			MaxOutputs:    2,
			Params: []ParamSpec{{
				Name: "duration", Type: ParamString, Enum: []string{"5", "10"}, Default: "5",
			}},
		},
		{
			ID:            "llama-3-8b",
			Title:         "Llama 3 8B Instruct",
			Provider:      "replicate",
			Capability:    CapabilityText,
			Enabled:       true,
			CreditCost:    1,
			UpstreamModel: "meta/meta-llama-3-8b-instruct",
			Params: []ParamSpec{{
				Name: "max_tokens", Type: ParamInteger, Min: ptr(1), Max: ptr(4096), Default: 512,
			}, {
				Name: "temperature", Type: ParamNumber, Min: ptr(0), Max: ptr(2), Default: 0.7,
			}},
		},
	}
}
