// Package strength scores passwords for the sign-up meter.
package strength

import (
	"strings"
	"unicode/utf16"
)

const (
	MaxScore  = 5
	MinLength = 8
	Specials  = `!@#$%^&*(),.?":{}|<>`
)

var labels = [MaxScore]string{"Very Weak", "Weak", "Fair", "Good", "Strong"}

// Checks lists which criteria a password meets.
type Checks struct {
	Length  bool `json:"length"`
	Lower   bool `json:"lowercase"`
	Upper   bool `json:"uppercase"`
	Digit   bool `json:"number"`
	Special bool `json:"special"`
}

type Result struct {
	Score  int    `json:"score"`
	Checks Checks `json:"checks"`
}

// Evaluate counts the satisfied checks. Only ASCII letters and digits count
// for the class checks. Length is measured in UTF-16 code units, as the
// browser-side meter does, so a character outside the BMP counts twice.
func Evaluate(password string) Result {
	var c Checks
	c.Length = Length(password) >= MinLength
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			c.Lower = true
		case r >= 'A' && r <= 'Z':
			c.Upper = true
		case r >= '0' && r <= '9':
			c.Digit = true
		case strings.ContainsRune(Specials, r):
			c.Special = true
		}
	}
	score := 0
	for _, ok := range []bool{c.Length, c.Lower, c.Upper, c.Digit, c.Special} {
		if ok {
			score++
		}
	}
	return Result{Score: score, Checks: c}
}

// Length counts UTF-16 code units.
func Length(password string) int {
	n := 0
	for _, r := range password {
		n += utf16.RuneLen(r)
	}
	return n
}

// Label names the score; an empty password is still "Very Weak".
func (r Result) Label() string {
	if r.Score <= 0 {
		return labels[0]
	}
	return labels[r.Score-1]
}

// Percent is the meter fill, 0 to 100.
func (r Result) Percent() int {
	return r.Score * 100 / MaxScore
}

// Tone is the meter colour band.
func (r Result) Tone() string {
	switch {
	case r.Score <= 2:
		return "weak"
	case r.Score == 3:
		return "fair"
	default:
		return "strong"
	}
}
