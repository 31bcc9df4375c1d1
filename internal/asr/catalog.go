package asr

// ModelOption describes one known whisper model preset.
type ModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeLabel   string `json:"sizeLabel"`
	Description string `json:"description"`
}

// modelCatalog lists the model names the whisper CLI accepts.
var modelCatalog = []ModelOption{
	{
		ID:          "tiny",
		Name:        "Tiny",
		SizeLabel:   "~75 MB",
		Description: "Fastest multilingual model.",
	},
	{
		ID:          "tiny.en",
		Name:        "Tiny (English)",
		SizeLabel:   "~75 MB",
		Description: "Fastest, English-only model.",
	},
	{
		ID:          "base",
		Name:        "Base",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed/quality, multilingual.",
	},
	{
		ID:          "base.en",
		Name:        "Base (English)",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed/quality, English-only.",
	},
	{
		ID:          "small",
		Name:        "Small",
		SizeLabel:   "~466 MB",
		Description: "Higher quality multilingual model.",
	},
	{
		ID:          "small.en",
		Name:        "Small (English)",
		SizeLabel:   "~466 MB",
		Description: "Higher quality, English-only.",
	},
	{
		ID:          "medium",
		Name:        "Medium",
		SizeLabel:   "~1.5 GB",
		Description: "High quality multilingual model.",
	},
	{
		ID:          "medium.en",
		Name:        "Medium (English)",
		SizeLabel:   "~1.5 GB",
		Description: "High quality, English-only.",
	},
	{
		ID:          "large-v2",
		Name:        "Large v2",
		SizeLabel:   "~2.9 GB",
		Description: "Very high quality multilingual model.",
	},
	{
		ID:          "large-v3",
		Name:        "Large v3",
		SizeLabel:   "~2.9 GB",
		Description: "Latest large multilingual model.",
	},
	{
		ID:          "large-v3-turbo",
		Name:        "Large v3 Turbo",
		SizeLabel:   "~1.6 GB",
		Description: "Faster large-v3 variant.",
	},
}

// Models returns the known model presets.
func Models() []ModelOption {
	models := make([]ModelOption, len(modelCatalog))
	copy(models, modelCatalog)
	return models
}

// KnownModel reports whether a model name is in the catalog.
func KnownModel(id string) bool {
	for _, model := range modelCatalog {
		if model.ID == id {
			return true
		}
	}
	return false
}
