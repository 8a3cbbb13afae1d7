package series

// Density back-fills population density as population/area, tagged with the
// population's year. A direct point always wins. Returns nil when either input
// is missing or area is not positive.
func Density(direct, area, population *Point) *Point {
	if direct != nil {
		return direct
	}
	if area == nil || population == nil || area.Value <= 0 || population.Value == 0 {
		return nil
	}
	return &Point{Year: population.Year, Value: population.Value / area.Value}
}

// PerCapita back-fills GDP per capita as gdp/population, tagged with the later
// of the two years. A direct point always wins. Returns nil when either input
// is missing or population is not positive.
func PerCapita(direct, gdp, population *Point) *Point {
	if direct != nil {
		return direct
	}
	if gdp == nil || population == nil || population.Value <= 0 || gdp.Value == 0 {
		return nil
	}
	return &Point{Year: max(gdp.Year, population.Year), Value: gdp.Value / population.Value}
}
