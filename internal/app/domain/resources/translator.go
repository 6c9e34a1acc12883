package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/textproto"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

const syncBookingField = "syncBooking"

var shortTime = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Payload is an encoded request body.
type Payload struct {
	Body        []byte
	ContentType string
}

// Translator applies the per-resource encoding rules.
type Translator struct {
	registry Registry
}

func NewTranslator(registry Registry) *Translator {
	return &Translator{registry: registry}
}

// Normalize converts enum labels and time-of-day values without choosing a
// wire format. The input is not modified.
func (t *Translator) Normalize(resource string, data models.Record) (models.Record, error) {
	s := t.registry.Lookup(resource)
	out := data.Clone()

	for _, field := range s.TimeFields {
		if v, ok := out[field].(string); ok {
			out[field] = ExpandTime(v)
		}
	}

	for field, table := range s.Enums {
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			delete(out, field)
			continue
		}
		code, ok := table.Code(v)
		if !ok {
			return nil, &models.FieldError{Resource: resource, Field: field, Value: v}
		}
		out[field] = code
	}

	delete(out, syncBookingField)
	return out, nil
}

// Encode produces a multipart body when an attachment field carries a file,
// JSON otherwise.
func (t *Translator) Encode(resource string, data models.Record) (*Payload, error) {
	s := t.registry.Lookup(resource)
	out, err := t.Normalize(resource, data)
	if err != nil {
		return nil, err
	}

	for field := range s.Attachments {
		if f, ok := out[field].(*models.File); ok && f != nil {
			return encodeMultipart(s, out)
		}
	}
	return encodeJSON(s, out)
}

func encodeJSON(s Strategy, data models.Record) (*Payload, error) {
	for _, field := range s.Strip {
		delete(data, field)
	}
	for k, v := range data {
		if _, isFile := v.(*models.File); isFile {
			delete(data, k)
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return &Payload{Body: raw, ContentType: transport.ContentTypeJSON}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(s Strategy, data models.Record) (*Payload, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range slices.Sorted(maps.Keys(data)) {
		v := data[field]
		if v == nil {
			continue
		}
		if key, isAttachment := s.Attachments[field]; isAttachment {
			f, ok := v.(*models.File)
			if !ok || f == nil {
				continue
			}
			if err := writeFilePart(w, key, f); err != nil {
				return nil, err
			}
			continue
		}
		if slices.Contains(s.Strip, field) {
			continue
		}
		text, ok := scalarText(v)
		if !ok {
			continue
		}
		if err := w.WriteField(field, text); err != nil {
			return nil, fmt.Errorf("write field %s: %w", field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return &Payload{Body: buf.Bytes(), ContentType: w.FormDataContentType()}, nil
}

func writeFilePart(w *multipart.Writer, key string, f *models.File) error {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := f.Name
	if name == "" {
		name = key
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(key), quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part %s: %w", key, err)
	}
	if f.Content != nil {
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copy file part %s: %w", key, err)
		}
	}
	return nil
}

func scalarText(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	}
	return "", false
}

// ExpandTime turns "HH:mm" into the backend's "HH:mm:ss" TimeSpan form.
func ExpandTime(v string) string {
	if shortTime.MatchString(v) {
		return v + ":00"
	}
	return v
}

// StatusOnly reports whether an update changes nothing but the status field.
func (t *Translator) StatusOnly(resource string, data, previous models.Record) bool {
	if _, ok := data["status"]; !ok {
		return false
	}

	s := t.registry.Lookup(resource)
	var changed, present []string
	for field, v := range data {
		if field == "id" || field == syncBookingField {
			continue
		}
		present = append(present, field)
		if previous == nil {
			changed = append(changed, field)
			continue
		}
		pv, ok := previous[field]
		if !ok || !sameValue(s.Enums[field], v, pv) {
			changed = append(changed, field)
		}
	}

	if len(changed) == 0 {
		return len(present) == 1
	}
	return len(changed) == 1 && changed[0] == "status"
}

func sameValue(table *EnumTable, a, b any) bool {
	if table != nil {
		ca, okA := table.Code(a)
		cb, okB := table.Code(b)
		if okA && okB {
			return ca == cb
		}
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
