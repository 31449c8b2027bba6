package api

import "github.com/phrazzld/scenegen/internal/service"

// SceneRequest is one scene of a CreateRunRequest.
type SceneRequest struct {
	Prompt         string `json:"prompt"          validate:"required"`
	NegativePrompt string `json:"negative_prompt"`
	AspectRatio    string `json:"aspect_ratio"`
	Style          string `json:"style"`
	Context        string `json:"context"`
}

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	Scenes          []SceneRequest `json:"scenes"            validate:"required,min=1,dive"`
	Style           string         `json:"style"`
	ImagesPerPrompt int            `json:"images_per_prompt"`
}

func (req CreateRunRequest) toInput() service.StartRunInput {
	in := service.StartRunInput{
		Scenes:          make([]service.SceneInput, len(req.Scenes)),
		Style:           req.Style,
		ImagesPerPrompt: req.ImagesPerPrompt,
	}
	for i, s := range req.Scenes {
		in.Scenes[i] = service.SceneInput{
			Prompt:         s.Prompt,
			NegativePrompt: s.NegativePrompt,
			AspectRatio:    s.AspectRatio,
			Style:          s.Style,
			Context:        s.Context,
		}
	}
	return in
}

// RunListResponse is the body of GET /api/runs.
type RunListResponse struct {
	Runs []*service.RunView `json:"runs"`
}
