package fluentquery

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// coerceParams normalizes parameter values before binding. Times are bound
// in UTC and readers, including files, are read into bytes.
func coerceParams(params []any) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case time.Time:
			out[i] = v.UTC()
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.UTC()
			}
		case io.Reader:
			b, err := io.ReadAll(v)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot read parameter %d", i+1)
			}
			out[i] = b
		default:
			out[i] = p
		}
	}
	return out, nil
}
