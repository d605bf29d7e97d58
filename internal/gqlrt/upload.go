package gqlrt

// Upload is a file variable materialized from a GraphQL multipart request.
// The server buffers part bytes before resolution begins, so translation is
// CPU-only.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}
