package middleware

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/opd-queue/internal/model"
)

var registerOnce sync.Once

// CustomValidators are the binding tags used by the queue request models.
func CustomValidators() map[string]validator.Func {
	return map[string]validator.Func{
		"queue_action": func(fl validator.FieldLevel) bool {
			switch model.QueueAction(fl.Field().String()) {
			case model.QueueActionStart, model.QueueActionComplete, model.QueueActionSkip,
				model.QueueActionRecall, model.QueueActionSetStatus:
				return true
			}
			return false
		},
		"availability_status": func(fl validator.FieldLevel) bool {
			return model.AvailabilityStatus(fl.Field().String()).Valid()
		},
	}
}

// RegisterValidators installs the custom tags on gin's validator and makes
// field errors report json names. Safe to call more than once.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		for tag, fn := range CustomValidators() {
			if err = v.RegisterValidation(tag, fn); err != nil {
				return
			}
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return err
}
