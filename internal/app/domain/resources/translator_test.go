package resources

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

func TestResolver(t *testing.T) {
	r := DefaultRegistry().Resolver()

	assert.Equal(t, "doctors/admin/create-with-user", r.Resolve("doctors", OpCreate))
	assert.Equal(t, "payments/booking", r.Resolve("payments", OpGetOne))
	assert.Equal(t, "medical-records/admin", r.Resolve("medical-records", OpList))
	assert.Equal(t, "feedbacks", r.Resolve("feedbacks", OpDelete), "empty slot falls back to the name")
	assert.Equal(t, "rooms", r.Resolve("rooms", OpUpdate), "unknown resource is its own path")
}

func TestEnumTableCode(t *testing.T) {
	tests := []struct {
		name  string
		table *EnumTable
		in    any
		want  int
		ok    bool
	}{
		{"english label", genderEnum, "Female", 1, true},
		{"vietnamese label", genderEnum, "Nữ", 1, true},
		{"case and spacing", paymentMethodEnum, "credit card", 1, true},
		{"underscore", paymentMethodEnum, "CREDIT_CARD", 1, true},
		{"vietnamese status", bookingStatusEnum, "Đã hủy", 3, true},
		{"numeric passthrough", bookingStatusEnum, float64(2), 2, true},
		{"numeric string", serviceStatusEnum, "1", 1, true},
		{"json number", paymentStatusEnum, json.Number("2"), 2, true},
		{"out of range code", serviceStatusEnum, 7, 7, false},
		{"fractional", genderEnum, 1.5, 0, false},
		{"unknown label", genderEnum, "Robot", 0, false},
		{"unsupported type", genderEnum, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.table.Code(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestExpandTime(t *testing.T) {
	assert.Equal(t, "08:00:00", ExpandTime("08:00"))
	assert.Equal(t, "17:30:15", ExpandTime("17:30:15"))
	assert.Equal(t, "8:00", ExpandTime("8:00"))
	assert.Equal(t, "", ExpandTime(""))
}

func TestTranslatorEncodeJSON(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())

	t.Run("SchedulesTimes", func(t *testing.T) {
		p, err := tr.Encode("schedules", models.Record{"doctorId": 3, "startTime": "08:00", "endTime": "12:30:00"})
		require.NoError(t, err)
		assert.Equal(t, "application/json", p.ContentType)
		assert.JSONEq(t, `{"doctorId":3,"startTime":"08:00:00","endTime":"12:30:00"}`, string(p.Body))
	})

	t.Run("PatientGender", func(t *testing.T) {
		p, err := tr.Encode("patients", models.Record{"fullName": "Lan", "gender": "Nữ"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"fullName":"Lan","gender":1}`, string(p.Body))
	})

	t.Run("PaymentEnums", func(t *testing.T) {
		p, err := tr.Encode("payments", models.Record{"status": "Completed", "method": "Tiền mặt", "syncBooking": true})
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":1,"method":0}`, string(p.Body))
	})

	t.Run("UnknownLabel", func(t *testing.T) {
		_, err := tr.Encode("bookings", models.Record{"status": "Teleported"})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidField)

		var fieldErr *models.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "status", fieldErr.Field)
	})

	t.Run("StripsAttachmentsWithoutFile", func(t *testing.T) {
		p, err := tr.Encode("doctors", models.Record{"fullName": "Dr. Minh", "avatar": "", "avatarUrl": "http://x/a.png"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"fullName":"Dr. Minh"}`, string(p.Body))
	})

	t.Run("InputUntouched", func(t *testing.T) {
		in := models.Record{"gender": "Male"}
		_, err := tr.Encode("patients", in)
		require.NoError(t, err)
		assert.Equal(t, "Male", in["gender"])
	})
}

func TestTranslatorEncodeMultipart(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())

	p, err := tr.Encode("doctors", models.Record{
		"fullName":     "Dr. Minh",
		"specialtyId":  4,
		"avatarUrl":    "http://old/a.png",
		"avatar":       &models.File{Name: "me.png", ContentType: "image/png", Content: strings.NewReader("PNGDATA")},
		"experience":   nil,
		"certificates": []any{"a"},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(p.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	require.NotEmpty(t, params["boundary"])

	reader := multipart.NewReader(strings.NewReader(string(p.Body)), params["boundary"])
	fields := map[string]string{}
	var fileName, fileType, fileBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		raw, err := io.ReadAll(part)
		require.NoError(t, err)
		if part.FileName() != "" {
			assert.Equal(t, "avatarFile", part.FormName())
			fileName, fileType, fileBody = part.FileName(), part.Header.Get("Content-Type"), string(raw)
			continue
		}
		fields[part.FormName()] = string(raw)
	}

	assert.Equal(t, "me.png", fileName)
	assert.Equal(t, "image/png", fileType)
	assert.Equal(t, "PNGDATA", fileBody)
	assert.Equal(t, map[string]string{"fullName": "Dr. Minh", "specialtyId": "4"}, fields)
}

func TestStatusOnly(t *testing.T) {
	tr := NewTranslator(DefaultRegistry())

	tests := []struct {
		name     string
		data     models.Record
		previous models.Record
		want     bool
	}{
		{"only status sent", models.Record{"id": 5, "status": "Confirmed"}, nil, true},
		{"status changed, rest equal", models.Record{"id": 5, "status": "Confirmed", "note": "x"}, models.Record{"id": 5, "status": 0, "note": "x"}, true},
		{"label equals previous code", models.Record{"status": "Pending", "note": "y"}, models.Record{"status": 0, "note": "x"}, false},
		{"other field changed", models.Record{"status": "Confirmed", "note": "y"}, models.Record{"status": 0, "note": "x"}, false},
		{"no status", models.Record{"note": "y"}, models.Record{"note": "x"}, false},
		{"full record without previous", models.Record{"status": 1, "note": "y"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.StatusOnly("bookings", tt.data, tt.previous))
		})
	}
}
