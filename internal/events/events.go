package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =====================================================
// Enums and Constants
// =====================================================

// Category represents the category of an agricultural event
type Category string

const (
	CategoryFertilization   Category = "fertilization"
	CategoryPestOrDisease   Category = "pest_or_disease"
	CategoryIrrigation      Category = "irrigation"
	CategoryHarvest         Category = "harvest_planting_pruning"
	CategoryEquipment       Category = "equipment"
	CategorySoilManagement  Category = "soil_management"
	CategoryWeatherResponse Category = "weather_response"
	CategoryBusiness        Category = "business_certification"
)

// AllCategories lists every supported event category
var AllCategories = []Category{
	CategoryFertilization,
	CategoryPestOrDisease,
	CategoryIrrigation,
	CategoryHarvest,
	CategoryEquipment,
	CategorySoilManagement,
	CategoryWeatherResponse,
	CategoryBusiness,
}

// AgriculturalEvent represents a user-reported farm activity. Quantitative
// fields are carried as raw strings because upstream reporting is free-form:
// any of them may be empty, "unknown", or carry a unit suffix ("50 L", "2 ha").
type AgriculturalEvent struct {
	ID              uuid.UUID `json:"id"`
	EstablishmentID uuid.UUID `json:"establishment_id"`
	ProductionID    uuid.UUID `json:"production_id"`
	Category        Category  `json:"category"`
	CropName        string    `json:"crop_name"`

	// Fertilization / chemical fields
	ProductType       string `json:"product_type,omitempty"` // fertilizer, pesticide, herbicide, fungicide
	Volume            string `json:"volume,omitempty"`
	Concentration     string `json:"concentration,omitempty"` // N-P-K form or free text
	ApplicationMethod string `json:"application_method,omitempty"`

	// Irrigation fields
	WaterVolume string `json:"water_volume,omitempty"`

	// Field operation / equipment fields
	Area       string `json:"area,omitempty"`
	Operation  string `json:"operation,omitempty"` // harvest, planting, pruning
	FuelAmount string `json:"fuel_amount,omitempty"`
	FuelType   string `json:"fuel_type,omitempty"`

	// Soil management / weather / business fields
	Practice string `json:"practice,omitempty"`
	Quantity string `json:"quantity,omitempty"`

	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Location identifies where an event took place. State may be empty; in that
// case the climate zone is derived from coordinates when available. Boundary
// optionally carries the field's GeoJSON outline, from which coordinates and
// treated area can be derived when not reported directly.
type Location struct {
	State     string   `json:"state,omitempty"`
	County    string   `json:"county,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Boundary  string   `json:"boundary,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// IsResolvable reports whether the location carries any usable region signal
func (l Location) IsResolvable() bool {
	return l.State != "" || l.HasCoordinates()
}

// IsUnknown reports whether a raw field value carries no usable information.
// The reporting UI historically produced all of these spellings.
func IsUnknown(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "unknown", "n/a", "na", "none", "-":
		return true
	}
	return false
}
