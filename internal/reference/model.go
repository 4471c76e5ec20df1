package reference

import (
	"fmt"
	"time"
)

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name" json:"name"`
	Items []EnumItem `yaml:"items" json:"items"`
}

type EnumItem struct {
	Code  string `yaml:"code" json:"code"`
	Name  string `yaml:"name" json:"name"`
	Order int    `yaml:"order,omitempty" json:"order,omitempty"`
	// границы действия, YYYY-MM-DD; пусто - без ограничения
	ValidFrom string `yaml:"valid_from,omitempty" json:"validFrom,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"validTo,omitempty"`
}

const dateLayout = "2006-01-02"

// ActiveAt: элемент действует на дату at (ValidTo включительно).
func (it EnumItem) ActiveAt(at time.Time) (bool, error) {
	day := at.UTC().Format(dateLayout)
	for _, b := range []string{it.ValidFrom, it.ValidTo} {
		if b == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, b); err != nil {
			return false, fmt.Errorf("item %q: bad date %q", it.Code, b)
		}
	}
	if it.ValidFrom != "" && day < it.ValidFrom {
		return false, nil
	}
	if it.ValidTo != "" && day > it.ValidTo {
		return false, nil
	}
	return true, nil
}
