package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
)

var validate = validator.New()

// parseBody decodes a JSON request body and validates its struct tags.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperror.Invalid("http.parse_body", "invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return apperror.Invalid("http.validate", "validation failed: "+strings.Join(fields, ", "))
		}
		return apperror.Invalid("http.validate", err.Error())
	}
	return nil
}

// respondError writes the JSON error envelope for err.
func respondError(c *fiber.Ctx, err error) error {
	kind := apperror.KindOf(err)
	msg := "internal error"
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		switch kind {
		case apperror.KindInvalid, apperror.KindNotFound:
			msg = appErr.Err.Error()
		default:
			msg = string(kind)
		}
	}
	return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
		"error":   string(kind),
		"message": msg,
	})
}
