package defaults

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// Unit conversion constants for canonicalizing reported quantities
const (
	GallonsToLiters     = 3.78541
	MillilitersToLiters = 0.001
	AcresToHectares     = 0.404686
	SquareMetersToHa    = 0.0001
)

// NPKRatio is a parsed fertilizer concentration, expressed as mass fractions
type NPKRatio struct {
	Nitrogen   float64 `json:"nitrogen"`
	Phosphorus float64 `json:"phosphorus"`
	Potassium  float64 `json:"potassium"`
}

// NormalizedInputs is an event with every quantitative gap filled. Fields
// that were substituted are listed in Defaulted so downstream confidence
// scoring knows how much of the input was estimated.
type NormalizedInputs struct {
	CropCategory      string   `json:"crop_category"`
	VolumeLiters      float64  `json:"volume_liters"`
	AreaHectares      float64  `json:"area_hectares"`
	WaterLiters       float64  `json:"water_liters"`
	FuelLiters        float64  `json:"fuel_liters"`
	FuelType          string   `json:"fuel_type"`
	Quantity          float64  `json:"quantity"`
	NPK               NPKRatio `json:"npk"`
	ApplicationMethod string   `json:"application_method"`
	Defaulted         []string `json:"defaulted,omitempty"`
}

// WasDefaulted reports whether the named field was filled with an estimate
func (n NormalizedInputs) WasDefaulted(field string) bool {
	for _, f := range n.Defaulted {
		if f == field {
			return true
		}
	}
	return false
}

// Resolver fills missing or unparseable event fields with crop- and
// category-aware plausible values. A gap is always filled with a defensible
// estimate, never with zero: a zero substituted for missing data would
// produce a falsely clean calculation.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a defaults resolver
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Normalize canonicalizes units and substitutes defaults for every
// empty/unknown/unparseable field the event's category actually uses.
// Fields irrelevant to the category are left zero and never counted as
// defaulted.
func (r *Resolver) Normalize(event events.AgriculturalEvent, cropName string) NormalizedInputs {
	category := CropCategory(cropName)
	out := NormalizedInputs{CropCategory: category}

	out.AreaHectares = r.resolveQuantity(&out, "area", event.Area, ParseArea, defaultAreaHectares(category))

	switch event.Category {
	case events.CategoryFertilization, events.CategoryPestOrDisease:
		out.VolumeLiters = r.resolveQuantity(&out, "volume", event.Volume, ParseVolume, defaultApplicationVolume(category)*out.AreaHectares)

		npk, parsed := ParseNPK(event.Concentration)
		out.NPK = npk
		if event.Category == events.CategoryFertilization && !parsed {
			out.Defaulted = append(out.Defaulted, "concentration")
		}

		if events.IsUnknown(event.ApplicationMethod) {
			out.ApplicationMethod = "broadcast"
			out.Defaulted = append(out.Defaulted, "application_method")
		} else {
			out.ApplicationMethod = NormalizeMethod(event.ApplicationMethod)
		}

	case events.CategoryIrrigation:
		out.WaterLiters = r.resolveQuantity(&out, "water_volume", event.WaterVolume, ParseVolume, defaultIrrigationVolume(category)*out.AreaHectares)

	case events.CategoryEquipment:
		out.FuelLiters = r.resolveQuantity(&out, "fuel_amount", event.FuelAmount, ParseVolume, defaultFuelLiters(category))
		if events.IsUnknown(event.FuelType) {
			out.FuelType = "diesel"
			out.Defaulted = append(out.Defaulted, "fuel_type")
		} else {
			out.FuelType = NormalizeFuelType(event.FuelType)
		}

	case events.CategoryWeatherResponse, events.CategoryBusiness:
		out.Quantity = r.resolveQuantity(&out, "quantity", event.Quantity, parsePlainNumber, 1.0)
	}

	if len(out.Defaulted) > 0 {
		r.logger.Debug("Filled missing event fields",
			zap.String("crop_category", category),
			zap.String("category", string(event.Category)),
			zap.Strings("defaulted", out.Defaulted))
	}

	return out
}

// resolveQuantity parses a raw quantity or substitutes the given default
func (r *Resolver) resolveQuantity(out *NormalizedInputs, field, raw string, parse func(string) (float64, bool), fallback float64) float64 {
	if !events.IsUnknown(raw) {
		if v, ok := parse(raw); ok && v > 0 {
			return v
		}
	}
	out.Defaulted = append(out.Defaulted, field)
	return fallback
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// npkTokenPattern is unsigned: in "10-10-10" the hyphens are separators,
// not signs, so a signed pattern would read the tail tokens as negative.
var npkTokenPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseVolume parses a raw volume string and canonicalizes it to liters.
// Recognized units: liters (default), gallons, milliliters.
func ParseVolume(raw string) (float64, bool) {
	value, unit, ok := splitQuantity(raw)
	if !ok {
		return 0, false
	}
	switch unit {
	case "gal", "gals", "gallon", "gallons":
		return value * GallonsToLiters, true
	case "ml", "milliliter", "milliliters":
		return value * MillilitersToLiters, true
	case "", "l", "liter", "liters", "litre", "litres":
		return value, true
	}
	return 0, false
}

// ParseArea parses a raw area string and canonicalizes it to hectares.
// Recognized units: hectares (default), acres, square meters.
func ParseArea(raw string) (float64, bool) {
	value, unit, ok := splitQuantity(raw)
	if !ok {
		return 0, false
	}
	switch unit {
	case "acre", "acres", "ac":
		return value * AcresToHectares, true
	case "m2", "m²", "sqm":
		return value * SquareMetersToHa, true
	case "", "ha", "hectare", "hectares":
		return value, true
	}
	return 0, false
}

func parsePlainNumber(raw string) (float64, bool) {
	v, _, ok := splitQuantity(raw)
	return v, ok
}

// splitQuantity extracts the leading numeric value and trailing unit token
func splitQuantity(raw string) (float64, string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	loc := numberPattern.FindStringIndex(s)
	if loc == nil {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(s[loc[0]:loc[1]], 64)
	if err != nil {
		return 0, "", false
	}
	unit := strings.TrimSpace(s[loc[1]:])
	unit = strings.Trim(unit, ".")
	return value, unit, true
}

// ParseNPK parses a fertilizer concentration into mass fractions. "10-10-10"
// style strings are read positionally; free text is scanned for its first
// three numeric tokens; anything unparseable falls back to the balanced
// 10-10-10 default. The second return value is false when the fallback was
// used.
func ParseNPK(raw string) (NPKRatio, bool) {
	balanced := NPKRatio{Nitrogen: 0.10, Phosphorus: 0.10, Potassium: 0.10}
	if events.IsUnknown(raw) {
		return balanced, false
	}

	tokens := npkTokenPattern.FindAllString(raw, 3)
	if len(tokens) < 3 {
		return balanced, false
	}

	values := make([]float64, 3)
	for i, t := range tokens {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil || v > 100 {
			return balanced, false
		}
		values[i] = v / 100.0
	}
	return NPKRatio{Nitrogen: values[0], Phosphorus: values[1], Potassium: values[2]}, true
}

// NormalizeMethod maps free-text application method descriptions onto the
// fixed method vocabulary. Unmatched text defaults to broadcast, the least
// efficient baseline.
func NormalizeMethod(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "inject"):
		return "injection"
	case strings.Contains(s, "slow") || strings.Contains(s, "controlled"):
		return "slow_release"
	case strings.Contains(s, "incorporat") || strings.Contains(s, "till"):
		return "incorporated"
	case strings.Contains(s, "precision") || strings.Contains(s, "variable rate") || strings.Contains(s, "gps"):
		return "precision"
	case strings.Contains(s, "split"):
		return "split"
	case strings.Contains(s, "fertigat") || strings.Contains(s, "drip"):
		return "fertigation"
	case strings.Contains(s, "broadcast") || strings.Contains(s, "spread"):
		return "broadcast"
	default:
		return "broadcast"
	}
}

// NormalizeFuelType maps free-text fuel descriptions onto registry substances
func NormalizeFuelType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "gasoline") || strings.Contains(s, "petrol"):
		return "gasoline"
	case strings.Contains(s, "natural gas") || strings.Contains(s, "lng") || strings.Contains(s, "cng"):
		return "natural_gas"
	case strings.Contains(s, "electric"):
		return "electricity"
	default:
		return "diesel"
	}
}

// CropCategory classifies a crop name into the category used by the default
// and efficiency tables
func CropCategory(cropName string) string {
	s := strings.ToLower(strings.TrimSpace(cropName))
	if s == "" {
		return "default"
	}
	categories := []struct {
		category string
		keywords []string
	}{
		{"citrus", []string{"orange", "lemon", "lime", "grapefruit", "mandarin", "citrus", "tangerine"}},
		{"grain", []string{"wheat", "corn", "maize", "barley", "oat", "sorghum", "rye", "rice"}},
		{"nuts", []string{"almond", "walnut", "pistachio", "pecan", "hazelnut", "cashew"}},
		{"vegetable", []string{"tomato", "lettuce", "pepper", "onion", "carrot", "broccoli", "cabbage", "potato", "cucumber", "squash"}},
		{"herbs", []string{"basil", "mint", "oregano", "thyme", "rosemary", "cilantro", "parsley"}},
		{"vineyard", []string{"grape", "vine"}},
		{"orchard", []string{"apple", "peach", "pear", "cherry", "plum", "apricot", "avocado", "olive"}},
		{"berry", []string{"strawberry", "blueberry", "raspberry", "blackberry"}},
	}
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(s, kw) {
				return c.category
			}
		}
	}
	return "default"
}

// defaultApplicationVolume is the fertilizer/chemical volume assumed per
// hectare when the user reported none (L/ha)
func defaultApplicationVolume(category string) float64 {
	volumes := map[string]float64{
		"citrus":    180,
		"grain":     120,
		"nuts":      160,
		"vegetable": 150,
		"herbs":     80,
		"vineyard":  110,
		"orchard":   170,
		"berry":     130,
	}
	if v, ok := volumes[category]; ok {
		return v
	}
	return 140
}

// defaultIrrigationVolume is the irrigation water volume assumed per hectare
// per event, scaled by crop water intensity (L/ha)
func defaultIrrigationVolume(category string) float64 {
	volumes := map[string]float64{
		"citrus":    45000,
		"grain":     30000,
		"nuts":      60000,
		"vegetable": 40000,
		"herbs":     15000,
		"vineyard":  25000,
		"orchard":   50000,
		"berry":     35000,
	}
	if v, ok := volumes[category]; ok {
		return v
	}
	return 35000
}

// defaultAreaHectares is the treated area assumed when none was reported
func defaultAreaHectares(category string) float64 {
	areas := map[string]float64{
		"grain":     4.0,
		"nuts":      3.0,
		"citrus":    2.0,
		"orchard":   2.0,
		"vineyard":  2.0,
		"vegetable": 1.5,
		"berry":     1.0,
		"herbs":     0.5,
	}
	if v, ok := areas[category]; ok {
		return v
	}
	return 1.0
}

// defaultFuelLiters is the fuel consumption assumed for an equipment event
// with no reported amount
func defaultFuelLiters(category string) float64 {
	if category == "grain" {
		return 40
	}
	return 25
}
