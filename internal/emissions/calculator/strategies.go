package calculator

import (
	"fmt"
	"strings"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/defaults"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
)

// kWhPerCubicMeter is the pumping energy assumed per m³ of irrigation water
const kWhPerCubicMeter = 0.5

// calculateFertilizationOrChemical handles fertilizer applications and
// pesticide/herbicide/fungicide treatments. Fertilizers follow the nutrient
// path; everything else uses a flat per-liter product factor.
func (c *Calculator) calculateFertilizationOrChemical(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	product := strings.ToLower(strings.TrimSpace(event.ProductType))
	if event.Category == events.CategoryPestOrDisease || product == "pesticide" || product == "herbicide" || product == "fungicide" {
		return c.calculateChemical(event, loc, inputs)
	}
	return c.calculateFertilization(loc, inputs)
}

// calculateFertilization computes nutrient emissions:
// co2e = Σ(nutrient% × volume × factor) × applicationEfficiency × cropModifier
// plus a small crop production adjustment of area × cropFactor × 0.1.
// The nutrient split is persisted per component so later factor corrections
// can rescale a single nutrient without guessing the original split.
func (c *Calculator) calculateFertilization(loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	nf, err := c.regional.Resolve("nitrogen", loc, inputs.CropCategory, inputs.ApplicationMethod)
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving nitrogen factor: %w", err)
	}
	pf, err := c.regional.Resolve("phosphorus", loc, inputs.CropCategory, inputs.ApplicationMethod)
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving phosphorus factor: %w", err)
	}
	kf, err := c.regional.Resolve("potassium", loc, inputs.CropCategory, inputs.ApplicationMethod)
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving potassium factor: %w", err)
	}

	efficiency := nf.MethodEfficiency * cropEfficiencyModifier(inputs.CropCategory)

	nitrogen := inputs.NPK.Nitrogen * inputs.VolumeLiters * nf.Value * efficiency
	phosphorus := inputs.NPK.Phosphorus * inputs.VolumeLiters * pf.Value * efficiency
	potassium := inputs.NPK.Potassium * inputs.VolumeLiters * kf.Value * efficiency
	production := inputs.AreaHectares * cropProductionFactor(inputs.CropCategory) * 0.1

	outcome := strategyOutcome{
		co2e: nitrogen + phosphorus + potassium + production,
		components: []Component{
			{Name: "nitrogen", CO2e: round4(nitrogen), Basis: nf.Factor.Unit},
			{Name: "phosphorus", CO2e: round4(phosphorus), Basis: pf.Factor.Unit},
			{Name: "potassium", CO2e: round4(potassium), Basis: kf.Factor.Unit},
			{Name: "crop_production", CO2e: round4(production), Basis: "kg CO2e/ha"},
		},
		metadata: nf.Metadata,
		factorVersions: map[string]int{
			"nitrogen":   nf.Factor.Version,
			"phosphorus": pf.Factor.Version,
			"potassium":  kf.Factor.Version,
		},
		calibrated: nf.Factor.Verified && pf.Factor.Verified && kf.Factor.Verified &&
			!inputs.WasDefaulted("volume") && !inputs.WasDefaulted("concentration"),
	}

	if inputs.ApplicationMethod == "broadcast" {
		outcome.recommendations = append(outcome.recommendations,
			"Broadcast application is the least efficient method; precision or injection application reduces nutrient emissions")
	}
	if inputs.WasDefaulted("volume") {
		outcome.recommendations = append(outcome.recommendations,
			"Application volume was estimated from crop defaults; record actual volumes to improve accuracy")
	}

	return outcome, nil
}

// calculateChemical computes pesticide/herbicide/fungicide emissions from a
// flat per-liter factor scaled by the crop's pest pressure
func (c *Calculator) calculateChemical(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	substance := strings.ToLower(strings.TrimSpace(event.ProductType))
	switch substance {
	case "herbicide", "fungicide", "pesticide":
	default:
		substance = "pesticide"
	}

	factor, err := c.regional.Resolve(substance, loc, inputs.CropCategory, inputs.ApplicationMethod)
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving %s factor: %w", substance, err)
	}

	pressure := pestPressureModifier(inputs.CropCategory)
	co2e := inputs.VolumeLiters * factor.Value * pressure

	return strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: substance, CO2e: round4(co2e), Basis: factor.Factor.Unit},
		},
		metadata:       factor.Metadata,
		factorVersions: map[string]int{substance: factor.Factor.Version},
		calibrated:     factor.Factor.Verified && !inputs.WasDefaulted("volume"),
		recommendations: []string{
			"Integrated pest management can reduce chemical application volumes",
		},
	}, nil
}

// calculateIrrigation estimates pumping-energy emissions:
// co2e = waterVolume_m³ × 0.5 kWh/m³ × gridFactor, adjusted by the crop's
// water-intensity category.
func (c *Calculator) calculateIrrigation(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	grid, err := c.regional.Resolve("electricity", loc, inputs.CropCategory, "")
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving grid factor: %w", err)
	}

	cubicMeters := inputs.WaterLiters / 1000.0
	intensity := waterIntensityModifier(inputs.CropCategory, event.CropName)
	co2e := cubicMeters * kWhPerCubicMeter * grid.Value * intensity

	outcome := strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: "irrigation_energy", CO2e: round4(co2e), Basis: grid.Factor.Unit},
		},
		metadata:       grid.Metadata,
		factorVersions: map[string]int{"electricity": grid.Factor.Version},
		calibrated:     grid.Factor.Verified && !inputs.WasDefaulted("water_volume"),
	}

	if inputs.WasDefaulted("water_volume") {
		outcome.recommendations = append(outcome.recommendations,
			"Irrigation volume was estimated from crop water-intensity defaults; metering improves accuracy")
	} else if intensity > 1.0 {
		outcome.recommendations = append(outcome.recommendations,
			"Water-intensive crop; drip irrigation or soil-moisture scheduling can lower pumping energy")
	}

	return outcome, nil
}

// calculateFieldOperation estimates fuel emissions for harvest, planting, and
// pruning: co2e = area × litersPerHectare × dieselFactor, adjusted by the
// crop category's equipment intensity.
func (c *Calculator) calculateFieldOperation(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	diesel, err := c.regional.Resolve("diesel", loc, inputs.CropCategory, "")
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving diesel factor: %w", err)
	}

	operation, litersPerHa := operationFuelRate(event.Operation)
	intensity := equipmentIntensityModifier(inputs.CropCategory)
	fuel := inputs.AreaHectares * litersPerHa * intensity
	co2e := fuel * diesel.Value

	return strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: operation + "_fuel", CO2e: round4(co2e), Basis: diesel.Factor.Unit},
		},
		metadata:       diesel.Metadata,
		factorVersions: map[string]int{"diesel": diesel.Factor.Version},
		calibrated:     diesel.Factor.Verified && !inputs.WasDefaulted("area"),
	}, nil
}

// calculateEquipment computes direct fuel-combustion emissions from the
// reported fuel amount and type
func (c *Calculator) calculateEquipment(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	factor, err := c.regional.Resolve(inputs.FuelType, loc, inputs.CropCategory, "")
	if err != nil {
		return strategyOutcome{}, fmt.Errorf("resolving fuel factor: %w", err)
	}

	// For electric equipment the reported amount is kWh rather than liters
	co2e := inputs.FuelLiters * factor.Value

	outcome := strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: inputs.FuelType + "_combustion", CO2e: round4(co2e), Basis: factor.Factor.Unit},
		},
		metadata:       factor.Metadata,
		factorVersions: map[string]int{inputs.FuelType: factor.Factor.Version},
		calibrated:     factor.Factor.Verified && !inputs.WasDefaulted("fuel_amount"),
	}

	if inputs.WasDefaulted("fuel_amount") {
		outcome.recommendations = append(outcome.recommendations,
			"Fuel amount was estimated; logging fuel purchases per operation improves accuracy")
	}

	return outcome, nil
}

// calculateSoilManagement applies per-hectare practice rates. Organic-matter
// addition and cover cropping sequester carbon (negative CO2e); tillage
// releases it (positive). The sign is preserved end to end.
func (c *Calculator) calculateSoilManagement(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	practice, ratePerHa := soilPracticeRate(event.Practice + " " + event.Description)
	co2e := ratePerHa * inputs.AreaHectares

	outcome := strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: practice, CO2e: round4(co2e), Basis: "kg CO2e/ha/season"},
		},
		metadata: c.regional.Metadata(loc),
	}

	if co2e > 0 {
		outcome.recommendations = append(outcome.recommendations,
			"Tillage releases stored soil carbon; reduced or no-till practices can turn this into a sequestration credit")
	}

	return outcome, nil
}

// calculateWeatherResponse applies small per-hectare factors for emergency
// weather interventions, scaled by the reported quantity (e.g. nights of
// frost protection)
func (c *Calculator) calculateWeatherResponse(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	response, ratePerHa := weatherResponseRate(event.Practice + " " + event.Description)

	quantity := inputs.Quantity
	if quantity < 1 {
		quantity = 1
	}
	co2e := ratePerHa * inputs.AreaHectares * quantity

	return strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: response, CO2e: round4(co2e), Basis: "kg CO2e/ha"},
		},
		metadata: c.regional.Metadata(loc),
	}, nil
}

// calculateBusiness handles administrative and certification events.
// Certifications that grant verified carbon credits contribute a negative
// offset; audits and inspections carry small positive overheads.
func (c *Calculator) calculateBusiness(event events.AgriculturalEvent, loc events.Location, inputs defaults.NormalizedInputs) (strategyOutcome, error) {
	text := strings.ToLower(event.Practice + " " + event.Description)

	quantity := inputs.Quantity
	if quantity < 1 {
		quantity = 1
	}

	var name string
	var co2e float64
	switch {
	case strings.Contains(text, "carbon credit") || strings.Contains(text, "carbon_credit"):
		name = "carbon_credit_offset"
		co2e = -50.0 * quantity
	case strings.Contains(text, "organic certification") || strings.Contains(text, "organic_certification"):
		name = "organic_certification_offset"
		co2e = -20.0 * quantity
	case strings.Contains(text, "audit") || strings.Contains(text, "inspection"):
		name = "audit_overhead"
		co2e = 15.0
	case strings.Contains(text, "certification"):
		name = "certification_overhead"
		co2e = 10.0
	default:
		name = "administrative_overhead"
		co2e = 5.0
	}

	return strategyOutcome{
		co2e: co2e,
		components: []Component{
			{Name: name, CO2e: round4(co2e)},
		},
		metadata: c.regional.Metadata(loc),
	}, nil
}

// =====================================================
// Crop and practice tables
// =====================================================

// cropEfficiencyModifier scales nutrient emissions by how efficiently each
// crop category takes up applied nutrients
func cropEfficiencyModifier(category string) float64 {
	modifiers := map[string]float64{
		"citrus":    0.80,
		"grain":     0.85,
		"nuts":      0.85,
		"orchard":   0.80,
		"vineyard":  0.75,
		"vegetable": 0.70,
		"berry":     0.70,
		"herbs":     0.65,
	}
	if m, ok := modifiers[category]; ok {
		return m
	}
	return 0.75
}

// cropProductionFactor is the per-hectare production adjustment (kg CO2e/ha,
// applied at 10%)
func cropProductionFactor(category string) float64 {
	factors := map[string]float64{
		"citrus":    2.5,
		"grain":     1.8,
		"nuts":      2.8,
		"orchard":   2.4,
		"vineyard":  2.0,
		"vegetable": 2.2,
		"berry":     2.1,
		"herbs":     1.2,
	}
	if f, ok := factors[category]; ok {
		return f
	}
	return 2.0
}

// pestPressureModifier scales chemical use by crop pest sensitivity
func pestPressureModifier(category string) float64 {
	modifiers := map[string]float64{
		"vegetable": 1.3,
		"berry":     1.25,
		"citrus":    1.2,
		"orchard":   1.1,
		"vineyard":  1.1,
		"grain":     0.9,
		"herbs":     0.8,
	}
	if m, ok := modifiers[category]; ok {
		return m
	}
	return 1.0
}

// waterIntensityModifier scales irrigation energy by crop water demand.
// Exceptionally water-intensive crops scale up beyond their category.
func waterIntensityModifier(category, cropName string) float64 {
	name := strings.ToLower(cropName)
	if strings.Contains(name, "rice") || strings.Contains(name, "cotton") {
		return 1.5
	}
	switch category {
	case "nuts":
		return 1.3
	case "herbs":
		return 0.7
	}
	return 1.0
}

// equipmentIntensityModifier scales field-operation fuel by how mechanized
// each crop category's operations are. Manual-harvest crops are lighter.
func equipmentIntensityModifier(category string) float64 {
	modifiers := map[string]float64{
		"grain":    1.4,
		"nuts":     1.2,
		"orchard":  1.1,
		"citrus":   1.1,
		"vineyard": 1.0,
		"berry":    0.6,
		"herbs":    0.6,
	}
	if m, ok := modifiers[category]; ok {
		return m
	}
	return 1.0
}

// operationFuelRate returns the canonical operation name and its baseline
// diesel consumption in L/ha
func operationFuelRate(raw string) (string, float64) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "harvest"):
		return "harvest", 20
	case strings.Contains(s, "plant") || strings.Contains(s, "seed") || strings.Contains(s, "sow"):
		return "planting", 15
	case strings.Contains(s, "prun"):
		return "pruning", 8
	default:
		return "field_operation", 15
	}
}

// soilPracticeRate returns the canonical practice name and its per-hectare
// seasonal rate. Negative rates are sequestration.
func soilPracticeRate(raw string) (string, float64) {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "cover crop"):
		return "cover_cropping", -2.0
	case strings.Contains(s, "compost") || strings.Contains(s, "organic matter") || strings.Contains(s, "manure"):
		return "organic_matter_addition", -3.5
	case strings.Contains(s, "mulch"):
		return "mulching", -1.0
	case strings.Contains(s, "no-till") || strings.Contains(s, "no till"):
		return "no_till", -1.5
	case strings.Contains(s, "reduced till") || strings.Contains(s, "minimum till"):
		return "reduced_tillage", 12.0
	case strings.Contains(s, "till") || strings.Contains(s, "plow") || strings.Contains(s, "plough"):
		return "conventional_tillage", 35.0
	default:
		return "soil_management", 2.0
	}
}

// weatherResponseRate returns the canonical response name and its per-hectare
// rate for emergency weather interventions
func weatherResponseRate(raw string) (string, float64) {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "frost") || strings.Contains(s, "freeze"):
		return "frost_protection", 12.0
	case strings.Contains(s, "drought"):
		return "drought_response", 6.0
	case strings.Contains(s, "flood"):
		return "flood_response", 5.0
	case strings.Contains(s, "hail"):
		return "hail_cleanup", 4.0
	default:
		return "weather_response", 5.0
	}
}
