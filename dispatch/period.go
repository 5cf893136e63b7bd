package dispatch

import (
	"fmt"
	"time"
)

// Period identifies one billing period: a month and year pair.
type Period struct {
	Mes int `json:"mes"`
	Ano int `json:"ano"`
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Mes: int(t.Month()), Ano: t.Year()}
}

// Validate reports whether the period is a real month/year.
func (p Period) Validate() error {
	if p.Mes < 1 || p.Mes > 12 {
		return fmt.Errorf("dispatch: invalid month %d", p.Mes)
	}
	if p.Ano < 2000 || p.Ano > 2200 {
		return fmt.Errorf("dispatch: invalid year %d", p.Ano)
	}
	return nil
}

// String formats the period as "MM/YYYY".
func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", p.Mes, p.Ano)
}
