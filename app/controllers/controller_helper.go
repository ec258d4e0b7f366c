package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/internal/pkg/apperr"
)

var validate = validator.New()

// bindJSON parses the request body into dto and validates its tags.
func bindJSON(c *fiber.Ctx, dto interface{}) error {
	if err := c.BodyParser(dto); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return validateStruct(dto)
}

func validateStruct(dto interface{}) error {
	if err := validate.Struct(dto); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.Validation("field %s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return apperr.Validation("%v", err)
	}
	return nil
}

// respondError writes err as a JSON error body with the status of its kind. Only
// validation errors expose details to the caller.
func respondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	body := fiber.Map{
		"error":   string(apperr.KindOf(err)),
		"message": apperr.Message(err, c.Get(fiber.HeaderAcceptLanguage)),
	}
	if body["error"] == "" {
		body["error"] = "internal_error"
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindValidation {
		body["details"] = ae.Message
	}
	return c.Status(status).JSON(body)
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return uint(id), nil
}

// ClientIP returns the original client address behind Cloudflare or a reverse proxy.
func ClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
