package resources

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// EnumTable maps human-facing labels to the integer codes the backend stores.
// Labels are compared after NFC normalization and case folding, ignoring
// spaces, dashes and underscores, so "credit_card" and "Credit Card" match.
type EnumTable struct {
	codes map[string]int
	valid map[int]bool
}

// NewEnumTable accepts several labels per code, e.g. English and Vietnamese.
func NewEnumTable(labels map[int][]string) *EnumTable {
	t := &EnumTable{codes: map[string]int{}, valid: map[int]bool{}}
	for code, names := range labels {
		t.valid[code] = true
		for _, name := range names {
			t.codes[normalizeLabel(name)] = code
		}
	}
	return t
}

// Code translates v. Integer values, including numeric strings, pass through
// when they are known codes.
func (t *EnumTable) Code(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, t.valid[val]
	case int64:
		return int(val), t.valid[int(val)]
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int(val), t.valid[int(val)]
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), t.valid[int(i)]
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.Atoi(s); err == nil {
			return i, t.valid[i]
		}
		code, ok := t.codes[normalizeLabel(s)]
		return code, ok
	}
	return 0, false
}

func normalizeLabel(s string) string {
	// Casers are stateful, so each call gets its own.
	s = cases.Fold().String(norm.NFC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			return -1
		}
		return r
	}, s)
}

var (
	genderEnum = NewEnumTable(map[int][]string{
		0: {"Male", "Nam"},
		1: {"Female", "Nữ"},
		2: {"Other", "Khác"},
	})
	bookingStatusEnum = NewEnumTable(map[int][]string{
		0: {"Pending", "Chờ xác nhận"},
		1: {"Confirmed", "Đã xác nhận"},
		2: {"Completed", "Hoàn thành"},
		3: {"Cancelled", "Canceled", "Đã hủy"},
	})
	paymentStatusEnum = NewEnumTable(map[int][]string{
		0: {"Pending", "Đang chờ"},
		1: {"Completed", "Hoàn thành"},
		2: {"Failed", "Thất bại"},
	})
	paymentMethodEnum = NewEnumTable(map[int][]string{
		0: {"Cash", "Tiền mặt"},
		1: {"CreditCard", "Thẻ tín dụng"},
		2: {"Insurance", "Bảo hiểm"},
		3: {"Online", "Trực tuyến"},
	})
	serviceStatusEnum = NewEnumTable(map[int][]string{
		0: {"Active", "Hoạt động"},
		1: {"Inactive", "Ngưng hoạt động"},
	})
)
