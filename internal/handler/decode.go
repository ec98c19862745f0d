package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxBodyBytes = 64 << 10

// decodeBody reads a JSON object body and hands every key to field. Unknown
// keys must be skipped by field. An empty body decodes as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &badRequestError{err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	d := jx.DecodeBytes(raw)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		var bad *badRequestError
		if errors.As(err, &bad) {
			return bad
		}
		return &badRequestError{err: err}
	}
	return nil
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	v, err := d.Int()
	if err != nil {
		return 0, &badRequestError{field: field, err: err}
	}
	return v, nil
}

func decodeInt64(d *jx.Decoder, field string) (int64, error) {
	v, err := d.Int64()
	if err != nil {
		return 0, &badRequestError{field: field, err: err}
	}
	return v, nil
}

func decodeStr(d *jx.Decoder, field string) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return "", &badRequestError{field: field, err: err}
	}
	return v, nil
}

func decodeBool(d *jx.Decoder, field string) (bool, error) {
	v, err := d.Bool()
	if err != nil {
		return false, &badRequestError{field: field, err: err}
	}
	return v, nil
}

// idParam parses a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &badRequestError{field: name, err: errors.New("must be a positive integer")}
	}
	return id, nil
}
