// Package httpx holds the request binding and error rendering shared by the
// fiber handlers.
package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"backend-convoyhub/internal/shared/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Bind parses the JSON body into dst and validates its `validate` tags.
// Failures are reported as apperr.ErrValidation.
func Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", apperr.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%s: %w", describe(fieldErrs[0]), apperr.ErrValidation)
		}
		return fmt.Errorf("%s: %w", err.Error(), apperr.ErrValidation)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return fe.Field() + " is required"
	}
	return fe.Field() + " is invalid"
}

// Error converts a domain error into a *fiber.Error carrying the mapped status.
func Error(err error) error {
	return fiber.NewError(apperr.Status(err), apperr.Message(err))
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	} else if status := apperr.Status(err); status != fiber.StatusOK {
		code = status
	}
	return c.Status(code).JSON(fiber.Map{"error": apperr.Message(err)})
}
