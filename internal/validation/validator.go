package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a title made only of whitespace passes "required"; reject it here
	v.RegisterStructValidation(createItemStructValidation, CreateItemRequest{})

	return v
}

func createItemStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateItemRequest)

	if req.Title != "" && strings.TrimSpace(req.Title) == "" {
		sl.ReportError(req.Title, "title", "Title", "not_blank", "")
	}
}
