package model

import (
	"regexp"
	"strconv"
	"strings"
)

// Allergy is a Korean school-meal allergen number (1..19) as printed
// after each dish by NEIS, e.g. "우유(2.)".
type Allergy int

const (
	AllergyEgg Allergy = iota + 1
	AllergyMilk
	AllergyBuckwheat
	AllergyPeanut
	AllergySoybean
	AllergyWheat
	AllergyMackerel
	AllergyCrab
	AllergyShrimp
	AllergyPork
	AllergyPeach
	AllergyTomato
	AllergySulfite
	AllergyWalnut
	AllergyChicken
	AllergyBeef
	AllergySquid
	AllergyShellfish
	AllergyPineNut
)

var allergyNames = map[Allergy]string{
	AllergyEgg:       "난류",
	AllergyMilk:      "우유",
	AllergyBuckwheat: "메밀",
	AllergyPeanut:    "땅콩",
	AllergySoybean:   "대두",
	AllergyWheat:     "밀",
	AllergyMackerel:  "고등어",
	AllergyCrab:      "게",
	AllergyShrimp:    "새우",
	AllergyPork:      "돼지고기",
	AllergyPeach:     "복숭아",
	AllergyTomato:    "토마토",
	AllergySulfite:   "아황산류",
	AllergyWalnut:    "호두",
	AllergyChicken:   "닭고기",
	AllergyBeef:      "쇠고기",
	AllergySquid:     "오징어",
	AllergyShellfish: "조개류",
	AllergyPineNut:   "잣",
}

// Valid reports whether a is a known allergen number.
func (a Allergy) Valid() bool {
	_, ok := allergyNames[a]
	return ok
}

func (a Allergy) String() string {
	if n, ok := allergyNames[a]; ok {
		return n
	}
	return strconv.Itoa(int(a))
}

var allergySuffix = regexp.MustCompile(`\s*\(([0-9.\s]+)\)\s*$`)

// SplitDish separates a NEIS dish string into its name and the allergen
// numbers listed in the trailing parentheses.
func SplitDish(dish string) (string, []Allergy) {
	dish = strings.TrimSpace(dish)
	m := allergySuffix.FindStringSubmatchIndex(dish)
	if m == nil {
		return dish, nil
	}
	name := strings.TrimSpace(dish[:m[0]])
	var out []Allergy
	for _, part := range strings.Split(dish[m[2]:m[3]], ".") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if a := Allergy(n); a.Valid() {
			out = append(out, a)
		}
	}
	return name, out
}

// DishContainsAny reports whether dish lists any of the given allergens.
func DishContainsAny(dish string, allergies []Allergy) bool {
	if len(allergies) == 0 {
		return false
	}
	_, listed := SplitDish(dish)
	for _, l := range listed {
		for _, a := range allergies {
			if l == a {
				return true
			}
		}
	}
	return false
}
