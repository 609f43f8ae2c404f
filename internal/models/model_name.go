package models

// ModelName identifies a generative model from the configured closed set
type ModelName string

const (
	ModelGemini15Flash    ModelName = "gemini-1.5-flash"
	ModelGemini20FlashExp ModelName = "gemini-2.0-flash-exp"
)

// DefaultModelNames is the model enum used when the configuration does not list one
var DefaultModelNames = []ModelName{ModelGemini15Flash, ModelGemini20FlashExp}

func (m ModelName) String() string { return string(m) }
