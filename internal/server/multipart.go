package server

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"net/http"

	gqlrt "github.com/protogate/protogate/internal/gqlrt"
	language "github.com/protogate/protogate/internal/language"
)

// parseMultipartRequest implements the GraphQL multipart request spec: the
// "operations" field holds the JSON request, "map" assigns file parts to
// variable paths, and the remaining parts are the files. File bytes are
// buffered before execution starts so resolution never blocks on the body.
func parseMultipartRequest(r *http.Request, maxBody int64) (GraphQLRequest, *language.Error) {
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBody)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return GraphQLRequest{}, &language.Error{Message: "invalid multipart body"}
	}

	var req GraphQLRequest
	var pathsByPart map[string][]string
	seenOperations := false
	seenMap := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if maxBody > 0 && strings.Contains(err.Error(), "request body too large") {
				return GraphQLRequest{}, &language.Error{Message: errBodyTooLargeMessage}
			}
			return GraphQLRequest{}, &language.Error{Message: "malformed multipart body"}
		}

		switch part.FormName() {
		case "operations":
			if err := json.NewDecoder(part).Decode(&req); err != nil {
				return GraphQLRequest{}, &language.Error{Message: "invalid 'operations' JSON"}
			}
			seenOperations = true
		case "map":
			if err := json.NewDecoder(part).Decode(&pathsByPart); err != nil {
				return GraphQLRequest{}, &language.Error{Message: "invalid 'map' JSON"}
			}
			seenMap = true
		default:
			// A file part. The multipart request protocol orders the
			// operations and map fields first.
			if !seenOperations || !seenMap {
				return GraphQLRequest{}, &language.Error{Message: "file parts must follow 'operations' and 'map'"}
			}
			paths, ok := pathsByPart[part.FormName()]
			if !ok {
				continue
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return GraphQLRequest{}, &language.Error{Message: "failed to read file part"}
			}
			upload := &gqlrt.Upload{
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Size:        int64(len(data)),
				Data:        data,
			}
			for _, p := range paths {
				if err := assignUpload(&req, p, upload); err != nil {
					return GraphQLRequest{}, &language.Error{Message: err.Error()}
				}
			}
			req.hasUploads = true
		}
	}

	if !seenOperations {
		return GraphQLRequest{}, &language.Error{Message: "missing 'operations' field"}
	}
	if req.Query == "" {
		return GraphQLRequest{}, &language.Error{Message: "missing 'query'"}
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil
}

// assignUpload writes an upload at a dotted variable path such as
// "variables.file" or "variables.files.0".
func assignUpload(req *GraphQLRequest, path string, upload *gqlrt.Upload) error {
	segments := strings.Split(path, ".")
	if len(segments) < 2 || segments[0] != "variables" {
		return fmt.Errorf("invalid map path %q", path)
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}

	var parent any = req.Variables
	for i := 1; i < len(segments)-1; i++ {
		next, err := descend(parent, segments[i])
		if err != nil {
			return fmt.Errorf("invalid map path %q: %v", path, err)
		}
		parent = next
	}
	last := segments[len(segments)-1]
	switch container := parent.(type) {
	case map[string]any:
		container[last] = upload
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(container) {
			return fmt.Errorf("invalid map path %q", path)
		}
		container[idx] = upload
	default:
		return fmt.Errorf("invalid map path %q", path)
	}
	return nil
}

func descend(container any, segment string) (any, error) {
	switch c := container.(type) {
	case map[string]any:
		v, ok := c[segment]
		if !ok {
			return nil, fmt.Errorf("segment %q not found", segment)
		}
		return v, nil
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("bad index %q", segment)
		}
		return c[idx], nil
	default:
		return nil, fmt.Errorf("segment %q is not a container", segment)
	}
}
