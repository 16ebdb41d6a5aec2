package backend

// ModelLocator is an optional interface for backends that can locate
// the actual model file inside a downloaded artifact directory.
// The model manager records the resolved file on the handle.
type ModelLocator interface {
	// ResolveModelPath resolves the real model path inside the base downloaded directory.
	ResolveModelPath(basePath string) (string, error)
}
