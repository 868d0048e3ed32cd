package observability

const (
	TracerName      = "hookd.server"
	SpanHTTPRequest = "hookd.http.request"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"

	DefaultServiceName  = "hookd"
	DefaultNamespace    = "hookd"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
	DefaultSamplingRate = 1.0
)
