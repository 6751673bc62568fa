package api

import (
	"math"
	"reflect"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/verification"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags: descriptor (a slice of
// exactly descriptor.Dim finite numbers) and pin (4-8 digits).
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("descriptor", validDescriptor)
		_ = v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
			return verification.ValidPIN(fl.Field().String())
		})
	})
}

func validDescriptor(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.Slice || f.Len() != descriptor.Dim {
		return false
	}
	for i := 0; i < f.Len(); i++ {
		x := f.Index(i).Float()
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
