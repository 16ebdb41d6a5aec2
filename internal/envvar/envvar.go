package envvar

const (
	// TtsdEnv is the environment variable used to determine the environment
	TtsdEnv = "TTSD_ENV"

	// TtsdServerHTTPPort is the environment variable used to determine the HTTP port
	TtsdServerHTTPPort = "TTSD_SERVER_HTTP_PORT"

	// TtsdServerGRPCPort is the environment variable used to determine the gRPC port
	TtsdServerGRPCPort = "TTSD_SERVER_GRPC_PORT"

	// TtsdModelsPath is the environment variable used to override the models directory
	TtsdModelsPath = "TTSD_MODELS_PATH"

	// TtsdNATSURL is the environment variable used to enable the NATS surface
	TtsdNATSURL = "TTSD_NATS_URL"

	// HuggingFaceToken is the access token passed to the hf CLI when the config has none
	HuggingFaceToken = "HF_TOKEN"

	// OnnxRuntimeLibPath points at the onnxruntime shared library
	OnnxRuntimeLibPath = "ONNXRUNTIME_LIB_PATH"
)
