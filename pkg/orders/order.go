// Package orders turns the backend's loosely shaped sale-order records into
// canonical orders and derives the filtered, paginated and aggregated views
// the portal shows.
package orders

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	NotAvailable  = "N/A"
	UnknownStatus = "Unknown"
	displayDate   = "1/2/2006"
)

// RawOrder is a sale-order record exactly as the backend sent it.
type RawOrder map[string]interface{}

type Order struct {
	ID            string  `json:"id"`
	CustomerName  string  `json:"customerName"`
	JobType       string  `json:"jobType"`
	Status        string  `json:"status"`
	PickupDate    string  `json:"pickupDate"`
	DeliveryDate  string  `json:"deliveryDate"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	CargoDetails  string  `json:"cargoDetails"`
	AWBNo         string  `json:"awbNo"`
	LoadingVessel string  `json:"loadingVessel"`
	OffVessel     string  `json:"offVessel"`
	LoadingPort   string  `json:"loadingPort"`
	OffPort       string  `json:"offPort"`
	NetAmount     float64 `json:"netAmount"`
	Quantity      float64 `json:"quantity"`
	TotalWeight   float64 `json:"totalWeight"`
}

// Normalize maps every field to its canonical form or its default. It never
// fails; malformed values degrade to the default.
func Normalize(raw RawOrder) Order {
	status := strings.TrimSpace(text(raw["JobStatus"]))
	if status == "" {
		status = UnknownStatus
	}

	cargo := text(raw["Cargo detaile"])
	if cargo == "" {
		cargo = text(raw["Commodity"])
	}

	return Order{
		ID:            orDefault(text(raw["Id"])),
		CustomerName:  orDefault(text(raw["CustomerName"])),
		JobType:       orDefault(text(raw["JobTypeName"])),
		Status:        status,
		PickupDate:    formatDate(raw["PickupDate"]),
		DeliveryDate:  formatDate(raw["DeliveryDate"]),
		Origin:        orDefault(text(raw["Origin"])),
		Destination:   orDefault(text(raw["Destination"])),
		CargoDetails:  orDefault(cargo),
		AWBNo:         orDefault(text(raw["AWBNo"])),
		LoadingVessel: orDefault(text(raw["LoadingVessel"])),
		OffVessel:     orDefault(text(raw["OffVessel"])),
		LoadingPort:   orDefault(text(raw["LoadingPort"])),
		OffPort:       orDefault(text(raw["OffPort"])),
		NetAmount:     number(raw["NetAmount"]),
		Quantity:      number(raw["Quantity"]),
		TotalWeight:   number(raw["TotalWeight"]),
	}
}

// NormalizeAll normalizes every record and orders the result by numeric id,
// highest first. Ids that are not integers sort as 0; ties keep input order.
func NormalizeAll(raws []RawOrder) []Order {
	out := make([]Order, len(raws))
	for i, raw := range raws {
		out[i] = Normalize(raw)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return numericID(out[i].ID) > numericID(out[j].ID)
	})
	return out
}

func numericID(id string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func orDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

func text(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func number(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		f, _ = t.Float64()
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

var (
	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	msDate = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)
)

func formatDate(v interface{}) string {
	s := strings.TrimSpace(text(v))
	if s == "" {
		return NotAvailable
	}

	if m := msDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return NotAvailable
		}
		return time.UnixMilli(ms).UTC().Format(displayDate)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(displayDate)
		}
	}
	return NotAvailable
}
