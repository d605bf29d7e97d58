package bridge

import "errors"

// ErrSchemaSynthesis marks inconsistent annotations discovered while
// building the schema (missing pluck fields, duplicate field names, Upload
// on a query, streaming-shape mismatches). It is fatal at startup: no
// partial schema is ever exposed.
var ErrSchemaSynthesis = errors.New("bridge: schema synthesis")
