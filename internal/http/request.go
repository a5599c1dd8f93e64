package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"orti/internal/core"
)

// decodeJSON reads a size-limited JSON body into dst and validates its
// struct tags.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidValue, err)
	}
	return nil
}

// pathInt parses a numeric path segment.
func pathInt(r *http.Request, name string) (int, error) {
	raw := r.PathValue(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", errBadRequest, name, raw)
	}
	return v, nil
}

// queryInt returns nil when the parameter is absent.
func queryInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", errBadRequest, name, raw)
	}
	return &v, nil
}

func queryBool(q url.Values, name string) (*bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a boolean", errBadRequest, name, raw)
	}
	return &v, nil
}

func queryString(q url.Values, name string) *string {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil
	}
	return &raw
}

func queryDecimal(q url.Values, name string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", errBadRequest, name, raw)
	}
	return v, nil
}

// parseCutoff reads a YYYY-MM value. Empty means none.
func parseCutoff(raw string) (*core.Period, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	p, err := core.ParsePeriod(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
