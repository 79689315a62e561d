package orders

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FullRecord(t *testing.T) {
	raw := RawOrder{
		"Id":            json.Number("1042"),
		"CustomerName":  "Acme",
		"JobTypeName":   "Sea Export",
		"JobStatus":     "  AT WAREHOUSE ",
		"PickupDate":    "2024-03-05T00:00:00",
		"DeliveryDate":  "2024-12-25T10:30:00.123",
		"Origin":        "Male",
		"Destination":   "Colombo",
		"Cargo detaile": "Tuna",
		"Commodity":     "Fish",
		"AWBNo":         "AWB-1",
		"LoadingVessel": "MV One",
		"OffVessel":     "MV Two",
		"LoadingPort":   "MLE",
		"OffPort":       "CMB",
		"NetAmount":     json.Number("1500.5"),
		"Quantity":      "12",
		"TotalWeight":   float64(340),
	}

	o := Normalize(raw)
	assert.Equal(t, Order{
		ID:            "1042",
		CustomerName:  "Acme",
		JobType:       "Sea Export",
		Status:        "AT WAREHOUSE",
		PickupDate:    "3/5/2024",
		DeliveryDate:  "12/25/2024",
		Origin:        "Male",
		Destination:   "Colombo",
		CargoDetails:  "Tuna",
		AWBNo:         "AWB-1",
		LoadingVessel: "MV One",
		OffVessel:     "MV Two",
		LoadingPort:   "MLE",
		OffPort:       "CMB",
		NetAmount:     1500.5,
		Quantity:      12,
		TotalWeight:   340,
	}, o)
}

func TestNormalize_Defaults(t *testing.T) {
	o := Normalize(RawOrder{})
	assert.Equal(t, Order{
		ID:            NotAvailable,
		CustomerName:  NotAvailable,
		JobType:       NotAvailable,
		Status:        UnknownStatus,
		PickupDate:    NotAvailable,
		DeliveryDate:  NotAvailable,
		Origin:        NotAvailable,
		Destination:   NotAvailable,
		CargoDetails:  NotAvailable,
		AWBNo:         NotAvailable,
		LoadingVessel: NotAvailable,
		OffVessel:     NotAvailable,
		LoadingPort:   NotAvailable,
		OffPort:       NotAvailable,
	}, o)

	assert.NotPanics(t, func() { Normalize(nil) })
}

func TestNormalize_MalformedValues(t *testing.T) {
	o := Normalize(RawOrder{
		"JobStatus":    "   ",
		"PickupDate":   "not a date",
		"DeliveryDate": map[string]interface{}{"nested": true},
		"NetAmount":    "abc",
		"Quantity":     []interface{}{1},
		"Commodity":    "Fish",
	})

	assert.Equal(t, UnknownStatus, o.Status)
	assert.Equal(t, NotAvailable, o.PickupDate)
	assert.Equal(t, NotAvailable, o.DeliveryDate)
	assert.Zero(t, o.NetAmount)
	assert.Zero(t, o.Quantity)
	assert.Equal(t, "Fish", o.CargoDetails)
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"2024-01-09", "1/9/2024"},
		{"2024-01-09 08:00:00", "1/9/2024"},
		{"2024-01-09T08:00:00Z", "1/9/2024"},
		{"2024-01-09T08:00:00+05:00", "1/9/2024"},
		{"/Date(1704758400000)/", "1/9/2024"},
		{"/Date(1704758400000+0500)/", "1/9/2024"},
		{"", NotAvailable},
		{nil, NotAvailable},
		{"09/01/2024", NotAvailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDate(tt.in), "input %v", tt.in)
	}
}

func TestNormalizeAll_SortsByNumericIDDesc(t *testing.T) {
	raws := []RawOrder{
		{"Id": json.Number("7"), "JobStatus": "a"},
		{"Id": "x-1", "JobStatus": "b"},
		{"Id": json.Number("120"), "JobStatus": "c"},
		{"JobStatus": "d"},
		{"Id": "15", "JobStatus": "e"},
	}

	got := NormalizeAll(raws)
	require.Len(t, got, 5)

	var statuses []string
	for _, o := range got {
		statuses = append(statuses, o.Status)
	}
	assert.Equal(t, []string{"c", "e", "a", "b", "d"}, statuses)
	assert.Empty(t, NormalizeAll(nil))
}
