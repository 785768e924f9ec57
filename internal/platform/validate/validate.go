// Package validate configures request validation shared by every handler.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Validator wraps validator.Validate with the iso4217 tag backed by x/text and
// exact decimal bounds: dgt, dgte, dlt and dlte compare a decimal.Decimal
// against the tag parameter without going through float64.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	for tag, accept := range map[string]func(cmp int) bool{
		"dgt":  func(cmp int) bool { return cmp > 0 },
		"dgte": func(cmp int) bool { return cmp >= 0 },
		"dlt":  func(cmp int) bool { return cmp < 0 },
		"dlte": func(cmp int) bool { return cmp <= 0 },
	} {
		_ = v.RegisterValidation(tag, decimalBound(accept))
	}
	_ = v.RegisterValidation("iso4217", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != 3 || strings.ToUpper(code) != code {
			return false
		}
		_, err := currency.ParseISO(code)
		return err == nil
	})
	return &Validator{v: v}
}

func decimalBound(accept func(cmp int) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return accept(value.Cmp(bound))
	}
}

// Struct validates s and reports every failing field as one ErrValidation.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", trimNamespace(fe.Namespace()), fe.Tag()))
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(problems, "; "))
}

func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
