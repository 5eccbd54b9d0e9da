package thing

// Dimension names the physical quantity a Unit measures.
type Dimension string

// Dimensions used by channel units.
const (
	DimensionTemperature       Dimension = "Temperature"
	DimensionPressure          Dimension = "Pressure"
	DimensionLength            Dimension = "Length"
	DimensionDimensionless     Dimension = "Dimensionless"
	DimensionElectricPotential Dimension = "ElectricPotential"
	DimensionElectricCurrent   Dimension = "ElectricCurrent"
	DimensionPower             Dimension = "Power"
	DimensionEnergy            Dimension = "Energy"
	DimensionIntensity         Dimension = "Intensity"
	DimensionIlluminance       Dimension = "Illuminance"
	DimensionMass              Dimension = "Mass"
	DimensionResistance        Dimension = "ElectricResistance"
	DimensionSpeed             Dimension = "Speed"
	DimensionAngle             Dimension = "Angle"
	DimensionSound             Dimension = "SoundLevel"
)

// Unit is a measurement unit attached to a QuantityType.
type Unit struct {
	Symbol    string    `json:"symbol"`
	Dimension Dimension `json:"dimension"`
}

// Units used by Tinkerforge and TP-Link channels.
var (
	Celsius          = Unit{Symbol: "°C", Dimension: DimensionTemperature}
	Millibar         = Unit{Symbol: "mbar", Dimension: DimensionPressure}
	Millimetre       = Unit{Symbol: "mm", Dimension: DimensionLength}
	Centimetre       = Unit{Symbol: "cm", Dimension: DimensionLength}
	Percent          = Unit{Symbol: "%", Dimension: DimensionDimensionless}
	Volt             = Unit{Symbol: "V", Dimension: DimensionElectricPotential}
	Millivolt        = Unit{Symbol: "mV", Dimension: DimensionElectricPotential}
	Ampere           = Unit{Symbol: "A", Dimension: DimensionElectricCurrent}
	Milliampere      = Unit{Symbol: "mA", Dimension: DimensionElectricCurrent}
	Watt             = Unit{Symbol: "W", Dimension: DimensionPower}
	Milliwatt        = Unit{Symbol: "mW", Dimension: DimensionPower}
	KilowattHour     = Unit{Symbol: "kWh", Dimension: DimensionEnergy}
	MilliwattPerSqM  = Unit{Symbol: "mW/m²", Dimension: DimensionIntensity}
	Lux              = Unit{Symbol: "lx", Dimension: DimensionIlluminance}
	Gram             = Unit{Symbol: "g", Dimension: DimensionMass}
	Ohm              = Unit{Symbol: "Ω", Dimension: DimensionResistance}
	MetrePerSecond   = Unit{Symbol: "m/s", Dimension: DimensionSpeed}
	DegreeAngle      = Unit{Symbol: "°", Dimension: DimensionAngle}
	DecibelA         = Unit{Symbol: "dB", Dimension: DimensionSound}
	dimensionlessOne = Unit{}
)

var unitsBySymbol = map[string]Unit{}

func init() {
	for _, u := range []Unit{
		Celsius, Millibar, Millimetre, Centimetre, Percent, Volt, Millivolt,
		Ampere, Milliampere, Watt, Milliwatt, KilowattHour, MilliwattPerSqM,
		Lux, Gram, Ohm, MetrePerSecond, DegreeAngle, DecibelA,
	} {
		unitsBySymbol[u.Symbol] = u
	}
}

// ParseUnit looks up a unit by its symbol.
func ParseUnit(symbol string) (Unit, bool) {
	u, ok := unitsBySymbol[symbol]
	return u, ok
}

// IsZero reports whether u is the empty (dimensionless one) unit.
func (u Unit) IsZero() bool {
	return u == dimensionlessOne
}

func (u Unit) String() string {
	return u.Symbol
}
