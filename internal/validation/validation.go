package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// MaxHeatmapDays is the longest horizon the upstream forecast provides.
const MaxHeatmapDays = 16

// ErrPlacemarkIDEmpty is returned when the placemark id is empty or whitespace-only.
var ErrPlacemarkIDEmpty = errors.New("placemark id is required")

// ErrPlacemarkIDInvalid is returned when the placemark id is too long or contains disallowed characters.
var ErrPlacemarkIDInvalid = errors.New("placemark id is invalid")

// ErrDaysInvalid is returned when the days query parameter is not an integer in 1..MaxHeatmapDays.
var ErrDaysInvalid = errors.New("days must be an integer between 1 and 16")

var placemarkIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the placemarkid and cronspec rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		mustRegister(v, "placemarkid", func(fl validator.FieldLevel) bool {
			return placemarkIDPattern.MatchString(fl.Field().String())
		})
		mustRegister(v, "cronspec", func(fl validator.FieldLevel) bool {
			_, err := cron.ParseStandard(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// mustRegister panics if tag cannot be registered; a missing rule would otherwise
// panic later on every Var call that names it.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %q: %v", tag, err))
	}
}

// Struct validates s against its validate tags.
func Struct(s interface{}) error {
	return Validator().Struct(s)
}

// ValidatePlacemarkID trims the input and checks it is a safe path segment for the
// placemark API: 1..64 characters of letters, digits, underscore or hyphen.
func ValidatePlacemarkID(input string) (string, error) {
	id := strings.TrimSpace(input)
	if id == "" {
		return "", ErrPlacemarkIDEmpty
	}
	if err := Validator().Var(id, "placemarkid"); err != nil {
		return "", ErrPlacemarkIDInvalid
	}
	return id, nil
}

// ParseDays parses the optional days query parameter. Empty input returns def.
func ParseDays(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrDaysInvalid
	}
	if err := Validator().Var(n, "gte=1,lte=16"); err != nil {
		return 0, ErrDaysInvalid
	}
	return n, nil
}
