package instrument

// Margin schedule. Crude is quoted per 1,000 BBL lot, everything else per 10,000 MMBtu lot.
const (
	crudeLotSize      = 1000.0
	crudeLotMargin    = 5000.0
	gasLotSize        = 10000.0
	gasLotMargin      = 1500.0
	basisSwapMargin   = 800.0
	optionMarginRatio = 0.5
)

// Margin returns the capital reserved against an open trade of the given type and volume.
// Options carry half the margin of their underlying.
func Margin(tradeType string, volume float64) float64 {
	switch {
	case tradeType == TypeOptionCL:
		return (volume / crudeLotSize) * crudeLotMargin * optionMarginRatio
	case Classify(tradeType) == ClassCrude:
		return (volume / crudeLotSize) * crudeLotMargin
	case tradeType == TypeBasisSwap:
		return (volume / gasLotSize) * basisSwapMargin
	case tradeType == TypeOptionNG:
		return (volume / gasLotSize) * gasLotMargin * optionMarginRatio
	default:
		return (volume / gasLotSize) * gasLotMargin
	}
}
