package workflow

// CatalogEntry describes a selectable model.
type CatalogEntry struct {
	ID      string `json:"model_name"`
	UseCase string `json:"use_case"`
}

// InferenceModels populates the model selector of Inference nodes.
var InferenceModels = []CatalogEntry{
	{ID: "gemini-2.5-pro", UseCase: "Advanced coding, complex problem-solving, multi-modal understanding, and creative content generation."},
	{ID: "gemini-2.5-flash", UseCase: "Well-rounded capabilities for a variety of tasks, offering a balance between price and performance."},
	{ID: "gemini-1.5-flash", UseCase: "Fast and versatile performance across a diverse variety of tasks."},
	{ID: "gemini-2.5-flash-lite", UseCase: "High-volume, cost-efficient tasks, and applications requiring low latency."},
	{ID: "gemini-2.5-flash-image-preview", UseCase: "Creative workflows involving image generation and conversational, multi-turn image editing."},
}

// EmbeddingModels populates the embedding selector of KnowledgeBase nodes.
var EmbeddingModels = []CatalogEntry{
	{ID: "gemini-embedding-001", UseCase: "High-performance semantic search, RAG (Retrieval-Augmented Generation), classification, and clustering across various languages and domains."},
	{ID: "text-embedding-005", UseCase: "Specialized tasks involving English text and code, such as code search and documentation retrieval."},
	{ID: "text-multilingual-embedding-002", UseCase: "Multilingual search and retrieval, cross-lingual information retrieval."},
	{ID: "multimodalembedding@001", UseCase: "Multimodal search (searching images with text, videos with images, etc.), image classification, and content moderation."},
}
