package instrument

import "strings"

// Class is the asset class a trade type belongs to
type Class string

const (
	ClassCrude    Class = "CRUDE"
	ClassNonCrude Class = "NON_CRUDE"
)

const (
	TypeEFP       = "EFP"
	TypeOptionCL  = "OPTION_CL"
	TypeOptionNG  = "OPTION_NG"
	TypeBasisSwap = "BASIS_SWAP"

	crudePrefix = "CRUDE"
)

// Volume limits per trade, in trading units
const (
	MaxCrudeVolume    = 50000.0
	MaxNonCrudeVolume = 500000.0
)

// Classify maps a trade type to its asset class. Unknown types are NON_CRUDE.
func Classify(tradeType string) Class {
	if strings.HasPrefix(tradeType, crudePrefix) || tradeType == TypeEFP || tradeType == TypeOptionCL {
		return ClassCrude
	}
	return ClassNonCrude
}

// Unit returns the trading unit label: barrels for crude, MMBtu for gas and everything else
func (c Class) Unit() string {
	if c == ClassCrude {
		return "BBL"
	}
	return "MMBtu"
}

// MaxVolume returns the largest volume a single trade of this class may carry
func (c Class) MaxVolume() float64 {
	if c == ClassCrude {
		return MaxCrudeVolume
	}
	return MaxNonCrudeVolume
}
