package resources

import (
	"net/url"
	"regexp"
	"strings"
)

// Strategy collects everything that makes one resource different from the
// generic JSON CRUD contract.
type Strategy struct {
	Endpoints Endpoints
	// Attachments maps a record field holding a *models.File to the
	// multipart key the backend expects.
	Attachments map[string]string
	// Strip lists fields dropped from JSON bodies when no file was attached.
	Strip      []string
	Enums      map[string]*EnumTable
	TimeFields []string
	// StatusPath, when set, routes status-only updates to a narrow endpoint.
	StatusPath func(id string) string
	// SyncPath, when set, handles the syncBooking action.
	SyncPath func(id string) string
}

// Registry is the process-wide strategy table. It is never mutated after
// construction.
type Registry map[string]Strategy

var resourceName = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Valid reports whether name is safe to use as a path segment.
func (r Registry) Valid(name string) bool {
	return resourceName.MatchString(name)
}

// Lookup returns the zero Strategy for unconfigured resources.
func (r Registry) Lookup(resource string) Strategy {
	return r[resource]
}

func (r Registry) Resolver() *Resolver {
	table := make(map[string]Endpoints, len(r))
	for name, s := range r {
		table[name] = s.Endpoints
	}
	return NewResolver(table)
}

func escaped(format string) func(id string) string {
	return func(id string) string {
		return strings.Replace(format, "{id}", url.PathEscape(id), 1)
	}
}

// DefaultRegistry describes the clinic backend.
func DefaultRegistry() Registry {
	return Registry{
		"doctors": {
			Endpoints: Endpoints{
				List:   "doctors",
				GetOne: "doctors",
				Create: "doctors/admin/create-with-user",
				Update: "doctors/admin",
				Delete: "doctors/admin",
			},
			Attachments: map[string]string{"avatar": "avatarFile"},
			Strip:       []string{"avatar", "avatarUrl"},
		},
		"patients": {
			Endpoints: Endpoints{
				List:   "patients",
				GetOne: "patients",
				Create: "patients/admin",
				Update: "patients",
				Delete: "patients/admin",
			},
			Enums: map[string]*EnumTable{"gender": genderEnum},
		},
		"bookings": {
			Endpoints:  Endpoints{List: "bookings", GetOne: "bookings", Create: "bookings", Update: "bookings", Delete: "bookings"},
			Enums:      map[string]*EnumTable{"status": bookingStatusEnum},
			StatusPath: escaped("bookings/{id}/status"),
		},
		"medical-records": {
			Endpoints: Endpoints{
				List:   "medical-records/admin",
				GetOne: "medical-records",
				Create: "medical-records/doctor",
				Update: "medical-records",
				Delete: "medical-records/admin",
			},
			Attachments: map[string]string{"attachment": "attachment"},
			Strip:       []string{"attachment"},
		},
		"notifications": {
			Endpoints: Endpoints{
				List:   "notifications/my-notifications",
				GetOne: "notifications",
				Create: "notifications/admin",
				Update: "notifications",
				Delete: "notifications",
			},
		},
		"payments": {
			Endpoints: Endpoints{
				List:   "payments/admin",
				GetOne: "payments/booking",
				Create: "payments",
				Update: "payments/admin",
				Delete: "payments/admin",
			},
			Enums: map[string]*EnumTable{
				"status": paymentStatusEnum,
				"method": paymentMethodEnum,
			},
			StatusPath: escaped("payments/admin/{id}/status"),
			SyncPath:   escaped("payments/admin/{id}/sync-booking"),
		},
		"schedules": {
			Endpoints: Endpoints{
				List:   "schedules/admin",
				GetOne: "schedules",
				Create: "schedules",
				Update: "schedules",
				Delete: "schedules",
			},
			TimeFields: []string{"startTime", "endTime"},
		},
		"services": {
			Endpoints: Endpoints{
				List:   "services",
				GetOne: "services",
				Create: "services/admin",
				Update: "services/admin",
				Delete: "services/admin",
			},
			Enums: map[string]*EnumTable{"status": serviceStatusEnum},
		},
		"specialties": {
			Endpoints: Endpoints{
				List:   "specialties",
				GetOne: "specialties",
				Create: "specialties/admin",
				Update: "specialties/admin",
				Delete: "specialties/admin",
			},
			Attachments: map[string]string{"icon": "icon"},
			Strip:       []string{"icon"},
		},
		"feedbacks": {},
	}
}
