// Package amount implements precision aware arithmetic for asset quantities.
// An asset quantity is always carried as an integer number of base units
// together with a decimal precision. The precision always represents a power
// of 10. Eg: a precision of 2 (two decimal places) maps to a division by 100
// when rendering the human readable form.
package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxPrecision is the largest supported decimal precision. Any larger power
// of ten no longer fits the uint64 base unit representation.
const MaxPrecision = 18

var (
	// ErrPrecisionMismatch is returned when combining two amounts of
	// different precision without an explicit conversion.
	ErrPrecisionMismatch = errors.New("amount precision mismatch")

	// ErrOverflow is returned when an arithmetic result exceeds the 64-bit
	// base unit boundary.
	ErrOverflow = errors.New("amount overflows 64-bit base units")

	// ErrUnderflow is returned when a subtraction would produce a negative
	// amount.
	ErrUnderflow = errors.New("amount underflows below zero")

	// ErrInvalidAmount is returned when a string or part-wise amount can't
	// be represented at the requested precision.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Amount is an asset quantity expressed in base units at a fixed decimal
// precision. Two amounts are only comparable or addable if their precisions
// match, or after one of them was explicitly rescaled.
type Amount struct {
	// Value is the quantity in base units.
	Value uint64

	// Precision is the number of decimal places one base unit represents.
	Precision uint8
}

// New creates an amount from a raw base unit value at the given precision.
func New(value uint64, precision uint8) Amount {
	return Amount{
		Value:     value,
		Precision: precision,
	}
}

// NewFromParts creates an amount from a whole and a fractional component. The
// fractional component is interpreted at the given precision, so
// NewFromParts(5, 0, 2) yields 500 base units.
func NewFromParts(whole, fractional uint64, precision uint8) (Amount, error) {
	scale, err := pow10(precision)
	if err != nil {
		return Amount{}, err
	}

	if fractional >= scale {
		return Amount{}, fmt.Errorf("%w: fractional part %d exceeds "+
			"precision %d", ErrInvalidAmount, fractional, precision)
	}

	if whole > 0 && whole > (math.MaxUint64-fractional)/scale {
		return Amount{}, ErrOverflow
	}

	return Amount{
		Value:     whole*scale + fractional,
		Precision: precision,
	}, nil
}

// ParseDecimal parses a human readable decimal string into an amount at the
// given precision. Fewer fractional digits than the precision are padded,
// more fractional digits than the precision are rejected.
func ParseDecimal(s string, precision uint8) (Amount, error) {
	scale, err := pow10(precision)
	if err != nil {
		return Amount{}, err
	}

	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	wholeStr, fracStr, hasFrac := strings.Cut(s, ".")
	if hasFrac && uint8(len(fracStr)) > precision {
		return Amount{}, fmt.Errorf("%w: %q has more than %d "+
			"decimal places", ErrInvalidAmount, s, precision)
	}

	whole, err := strconv.ParseUint(wholeStr, 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	var fractional uint64
	if hasFrac && fracStr != "" {
		fractional, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount,
				s)
		}

		// Pad implicit trailing zeroes up to the precision.
		for i := len(fracStr); i < int(precision); i++ {
			fractional *= 10
		}
	}

	if whole > 0 && whole > (math.MaxUint64-fractional)/scale {
		return Amount{}, ErrOverflow
	}

	return Amount{
		Value:     whole*scale + fractional,
		Precision: precision,
	}, nil
}

// String renders the amount in its human readable decimal form, always
// printing the full number of decimal places of the precision.
func (a Amount) String() string {
	if a.Precision == 0 {
		return strconv.FormatUint(a.Value, 10)
	}

	scale, _ := pow10(a.Precision)
	return fmt.Sprintf("%d.%0*d", a.Value/scale, a.Precision,
		a.Value%scale)
}

// ToFloat64 returns the normalized floating point representation of the
// amount. This is a display helper only, amounts are never stored as floats.
func (a Amount) ToFloat64() float64 {
	return float64(a.Value) / math.Pow10(int(a.Precision))
}

// Add returns the checked sum of both amounts.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Precision != b.Precision {
		return Amount{}, ErrPrecisionMismatch
	}

	if a.Value > math.MaxUint64-b.Value {
		return Amount{}, ErrOverflow
	}

	return Amount{
		Value:     a.Value + b.Value,
		Precision: a.Precision,
	}, nil
}

// Sub returns the checked difference of both amounts.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Precision != b.Precision {
		return Amount{}, ErrPrecisionMismatch
	}

	if b.Value > a.Value {
		return Amount{}, ErrUnderflow
	}

	return Amount{
		Value:     a.Value - b.Value,
		Precision: a.Precision,
	}, nil
}

// ScaleTo explicitly rescales the amount to a new precision. Scaling down is
// only possible if no significant digits are lost.
func (a Amount) ScaleTo(newPrecision uint8) (Amount, error) {
	switch {
	case newPrecision == a.Precision:
		return a, nil

	case newPrecision > a.Precision:
		scale, err := pow10(newPrecision - a.Precision)
		if err != nil {
			return Amount{}, err
		}
		if a.Value > 0 && a.Value > math.MaxUint64/scale {
			return Amount{}, ErrOverflow
		}

		return Amount{
			Value:     a.Value * scale,
			Precision: newPrecision,
		}, nil

	default:
		scale, err := pow10(a.Precision - newPrecision)
		if err != nil {
			return Amount{}, err
		}
		if a.Value%scale != 0 {
			return Amount{}, fmt.Errorf("%w: scaling %v to "+
				"precision %d loses digits", ErrInvalidAmount,
				a, newPrecision)
		}

		return Amount{
			Value:     a.Value / scale,
			Precision: newPrecision,
		}, nil
	}
}

// pow10 returns 10^exp as a uint64, guarding the 64-bit boundary.
func pow10(exp uint8) (uint64, error) {
	if exp > MaxPrecision {
		return 0, fmt.Errorf("%w: precision %d exceeds maximum of %d",
			ErrInvalidAmount, exp, MaxPrecision)
	}

	result := uint64(1)
	for i := uint8(0); i < exp; i++ {
		result *= 10
	}

	return result, nil
}
