package api //nolint:revive // package name is intentional

const (
	// DefaultMaxBodySize caps request bodies (8MB).
	DefaultMaxBodySize = 8 * 1024 * 1024

	// MaxBatchInputs caps the number of texts in one embeddings request.
	MaxBatchInputs = 2048
)
