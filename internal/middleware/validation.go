package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/capitalize-ai/messenger/internal/common"
)

var validate = validator.New()

// maxIDLength bounds path ids before they reach the store.
const maxIDLength = 64

// ValidateStruct checks a request DTO against its validate tags.
func ValidateStruct(req any) error {
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: field %s failed %s", common.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

// ValidateID validates a path id.
func ValidateID(kind, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s ID cannot be empty", common.ErrValidation, kind)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: %s ID exceeds maximum length", common.ErrValidation, kind)
	case !utf8.ValidString(id) || strings.ContainsAny(id, "/ \t\r\n"):
		return fmt.Errorf("%w: invalid %s ID format", common.ErrValidation, kind)
	}
	return nil
}

// ValidateMessageContent validates message text.
func ValidateMessageContent(content string) error {
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content must be valid UTF-8", common.ErrValidation)
	}
	return nil
}
