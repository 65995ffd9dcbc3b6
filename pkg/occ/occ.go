// Package occ encodes and decodes OCC option symbols such as
// QQQ260320C00600000 (root QQQ, expiry 2026-03-20, call, strike 600).
package occ

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidSymbol is returned for anything that does not decode as
	// root + YYMMDD + C/P + strike digits.
	ErrInvalidSymbol = errors.New("invalid occ symbol")
)

// Symbol is a decoded OCC option symbol. Strike is in dollars.
type Symbol struct {
	Root   string
	Exp    time.Time // expiry date, midnight UTC
	IsCall bool
	Strike float64
}

// dateLen + sideLen + strikeLen is the fixed tail after the root.
const (
	dateLen   = 6
	strikeLen = 8
	minLen    = dateLen + 1 + strikeLen
)

// Parse decodes an OCC symbol. The root must be uppercase letters; a root
// containing digits would collide with the date scan, so it is rejected.
func Parse(sym string) (Symbol, error) {
	s := strings.TrimSpace(sym)
	if len(s) <= minLen {
		return Symbol{}, fmt.Errorf("%w: %q too short", ErrInvalidSymbol, sym)
	}

	rootEnd := 0
	for rootEnd < len(s) && s[rootEnd] >= 'A' && s[rootEnd] <= 'Z' {
		rootEnd++
	}
	if rootEnd == 0 || len(s)-rootEnd != minLen {
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, sym)
	}

	root := s[:rootEnd]
	date := s[rootEnd : rootEnd+dateLen]
	side := s[rootEnd+dateLen]
	strike := s[rootEnd+dateLen+1:]

	if !allDigits(date) || !allDigits(strike) {
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, sym)
	}
	if side != 'C' && side != 'P' {
		return Symbol{}, fmt.Errorf("%w: %q bad side %q", ErrInvalidSymbol, sym, string(side))
	}

	yy := digits(date[0:2])
	mm := digits(date[2:4])
	dd := digits(date[4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return Symbol{}, fmt.Errorf("%w: %q bad date", ErrInvalidSymbol, sym)
	}

	return Symbol{
		Root:   root,
		Exp:    time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC),
		IsCall: side == 'C',
		Strike: float64(digits(strike)) / 1000.0,
	}, nil
}

// Emit encodes a symbol in normalized form: uppercase root, zero-padded
// date and strike (strike rounded to the nearest thousandth of a dollar).
func Emit(s Symbol) string {
	side := "P"
	if s.IsCall {
		side = "C"
	}
	milli := int64(s.Strike*1000 + 0.5)
	return fmt.Sprintf("%s%02d%02d%02d%s%08d",
		strings.ToUpper(s.Root),
		s.Exp.Year()%100, int(s.Exp.Month()), s.Exp.Day(),
		side, milli)
}

// ExpISO is the expiry as YYYY-MM-DD.
func (s Symbol) ExpISO() string {
	return s.Exp.Format("2006-01-02")
}

// ExpiryClose is the approximate session close on expiry day, 16:00 UTC.
func (s Symbol) ExpiryClose() time.Time {
	return time.Date(s.Exp.Year(), s.Exp.Month(), s.Exp.Day(), 16, 0, 0, 0, time.UTC)
}

// YearFrac is the time to expiry in years, floored at zero.
func (s Symbol) YearFrac(now time.Time) float64 {
	dt := s.ExpiryClose().Sub(now).Seconds()
	if dt <= 0 {
		return 0
	}
	return dt / (365 * 24 * 3600)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func digits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
