package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

const totalCountHeader = "X-Total-Count"

func decodeBody(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return v, nil
}

// DecodeList accepts a bare array or an {items|data, total} envelope. Anything
// else is an empty page. A parseable X-Total-Count header wins over the body.
// When embeddedTotal is false only the header or the page length count.
func DecodeList(resp *transport.Response, embeddedTotal bool) (*models.ListResult, error) {
	body, err := decodeBody(resp.Body)
	if err != nil {
		return nil, err
	}

	var (
		items []any
		total int64
		found bool
	)
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, key := range []string{"items", "data"} {
			if list, ok := v[key].([]any); ok {
				items = list
				break
			}
		}
		if embeddedTotal {
			total, found = toCount(v["total"])
		}
	}

	out := &models.ListResult{Data: make([]models.Record, 0, len(items))}
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out.Data = append(out.Data, models.Record(obj))
		}
	}

	if !found || total == 0 {
		total = int64(len(out.Data))
	}
	if n, ok := headerTotal(resp.Header); ok {
		total = n
	}
	out.Total = total
	return out, nil
}

func headerTotal(h http.Header) (int64, bool) {
	if h == nil {
		return 0, false
	}
	raw := strings.TrimSpace(h.Get(totalCountHeader))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func toCount(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	}
	return 0, false
}

// DecodeRecord guarantees an id on the result. Acknowledgements (empty body,
// booleans, strings, {message}) become fallback plus id. Objects without an id
// are merged over fallback. A {data: {...}} wrapper is unwrapped.
func DecodeRecord(resp *transport.Response, id string, fallback models.Record) (models.Record, error) {
	body, err := decodeBody(resp.Body)
	if err != nil {
		return nil, err
	}

	obj, ok := body.(map[string]any)
	if ok {
		if inner, wrapped := obj["data"].(map[string]any); wrapped && obj["id"] == nil {
			obj = inner
		}
	}
	if !ok || isAck(obj) {
		return withID(fallback, id), nil
	}
	if _, has := models.Record(obj).ID(); has {
		return models.Record(obj), nil
	}

	out := withID(fallback, id)
	for k, v := range obj {
		out[k] = v
	}
	return out, nil
}

// DecodeWriteResult reads the answer to an update or delete. Like DecodeRecord,
// except a body that is not JSON at all (a bare text acknowledgement) also
// yields fallback plus id.
func DecodeWriteResult(resp *transport.Response, id string, fallback models.Record) models.Record {
	rec, err := DecodeRecord(resp, id, fallback)
	if err != nil {
		return withID(fallback, id)
	}
	return rec
}

// DecodeCreated needs the backend to name the new record, either in an object
// or as a bare number.
func DecodeCreated(resp *transport.Response, data models.Record) (models.Record, error) {
	body, err := decodeBody(resp.Body)
	if err != nil {
		return nil, err
	}

	switch v := body.(type) {
	case json.Number:
		return withID(data, v.String()), nil
	case map[string]any:
		if inner, wrapped := v["data"].(map[string]any); wrapped && v["id"] == nil {
			v = inner
		}
		if _, has := models.Record(v).ID(); has {
			out := data.Clone()
			for k, val := range v {
				out[k] = val
			}
			return out, nil
		}
	}
	return nil, models.ErrMissingIdentifier
}

func isAck(obj map[string]any) bool {
	if obj == nil {
		return true
	}
	if _, has := models.Record(obj).ID(); has {
		return false
	}
	_, hasMessage := obj["message"]
	return hasMessage || len(obj) == 0
}

func withID(base models.Record, id string) models.Record {
	out := base.Clone()
	out["id"] = IDValue(id)
	return out
}

// IDValue keeps numeric ids numeric on the wire.
func IDValue(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
