package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transient reports whether a streaming insert failure is worth retrying.
// Composite BigQuery errors are transient only when every part is.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allTransient(multi)
	}
	var perRow cbigquery.PutMultiError
	if errors.As(err, &perRow) {
		parts := make([]error, 0, len(perRow))
		for _, rowErr := range perRow {
			parts = append(parts, rowErr.Errors)
		}
		return allTransient(parts)
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		return allTransient(rowErr.Errors)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allTransient(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !Transient(e) {
			return false
		}
	}
	return true
}
