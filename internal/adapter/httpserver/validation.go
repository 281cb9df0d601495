package httpserver

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// imageRequest is the validated wire shape of POST /api/generate/image.
type imageRequest struct {
	Prompt         string            `json:"prompt" validate:"required,min=1,max=1000"`
	NegativePrompt string            `json:"negative_prompt" validate:"omitempty,max=500"`
	Model          string            `json:"model"`
	Quality        string            `json:"quality" validate:"omitempty,oneof=basic standard high"`
	Width          int               `json:"width" validate:"omitempty,min=256,max=2048"`
	Height         int               `json:"height" validate:"omitempty,min=256,max=2048"`
	Seed           int64             `json:"seed"`
	InitImageURL   string            `json:"init_image_url" validate:"omitempty,url"`
	Strength       float64           `json:"strength" validate:"omitempty,min=0,max=1"`
	CaptionInit    bool              `json:"caption_init_image"`
	EditType       string            `json:"edit_type" validate:"omitempty,oneof=inpaint outpaint restyle background_replace"`
	Metadata       map[string]string `json:"metadata"`
}

// videoRequest is the validated wire shape of POST /api/generate/video.
type videoRequest struct {
	Prompt          string            `json:"prompt" validate:"required,min=1,max=1000"`
	NegativePrompt  string            `json:"negative_prompt" validate:"omitempty,max=500"`
	Model           string            `json:"model"`
	Quality         string            `json:"quality" validate:"omitempty,oneof=basic standard high"`
	GenerationType  string            `json:"generation_type" validate:"required,oneof=text_to_video image_to_video keyframe"`
	DurationSeconds int               `json:"duration_seconds" validate:"required,min=1,max=30"`
	FPS             int               `json:"fps" validate:"required,min=12,max=60"`
	InitImageURL    string            `json:"init_image_url" validate:"omitempty,url"`
	Metadata        map[string]string `json:"metadata"`
}

// trainingRequest is the validated wire shape of POST /api/generate/training.
type trainingRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=200"`
	Steps      int    `json:"steps" validate:"required,oneof=600 1200 2000"`
	BaseModel  string `json:"base_model" validate:"required"`
	DatasetURL string `json:"dataset_url" validate:"required,url"`
}

// fieldErrors flattens validator.ValidationErrors into a field->tag map
// suitable for the error envelope's details payload.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}
