package utils

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/types"
)

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponse sends a standard error response
func ErrorResponse(c *fiber.Ctx, message string, status int, errorType string) error {
	return c.Status(status).JSON(ErrorResponseStruct{
		Status:      status,
		Message:     message,
		Ok:          false,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		URL:         c.OriginalURL(),
		Type:        errorType,
		ChangeState: types.ChangeNone,
	})
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return ErrorResponse(c, message, fiber.StatusNotFound, "not_found")
}

// EngineErrorResponse maps an engine error to a status and a structured body
// that says whether anything was changed.
func EngineErrorResponse(c *fiber.Ctx, err error) error {
	body := ErrorResponseStruct{
		Status:      fiber.StatusInternalServerError,
		Message:     err.Error(),
		Ok:          false,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		URL:         c.OriginalURL(),
		Type:        "storage",
		ChangeState: types.ChangeStateOf(err),
	}

	var (
		ve  *types.ValidationError
		ne  *types.NamingConflictError
		de  *types.SchemaDriftError
		pe  *types.PartialApplyError
		le  *types.LockContentionError
		fe  *types.FatalStorageError
		ce  *types.CustomError
		fbe *fiber.Error
	)
	switch {
	case errors.As(err, &ve):
		body.Status, body.Type, body.Errors = fiber.StatusBadRequest, "validation", ve.Errors
	case errors.As(err, &ne):
		body.Status, body.Type = fiber.StatusConflict, "naming_conflict"
	case errors.As(err, &pe):
		body.Type, body.Applied, body.Unapplied = "partial_apply", pe.Applied, pe.Unapplied
	case errors.As(err, &de):
		body.Status, body.Type, body.Missing = fiber.StatusConflict, "schema_drift", de.Missing
	case errors.As(err, &le):
		body.Status, body.Type = fiber.StatusLocked, "lock_contention"
		c.Set(fiber.HeaderRetryAfter, "1")
	case errors.Is(err, types.ErrNotFound):
		body.Status, body.Type = fiber.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrInvalidState):
		body.Status, body.Type = fiber.StatusConflict, "invalid_state"
	case errors.As(err, &fe):
		body.Type = "storage"
	case errors.As(err, &ce):
		body.Status, body.Message, body.Type = ce.Code, ce.Message, ce.Type
	case errors.As(err, &fbe):
		body.Status, body.Message, body.Type = fbe.Code, fbe.Message, "request"
	}
	return c.Status(body.Status).JSON(body)
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status      int                  `json:"status"`
	Message     string               `json:"message"`
	Ok          bool                 `json:"ok"`
	Timestamp   string               `json:"timestamp"`
	URL         string               `json:"url"`
	Type        string               `json:"type,omitempty"`
	ChangeState types.ChangeState    `json:"change_state"`
	Errors      []types.FieldError   `json:"errors,omitempty"`
	Applied     []types.OperationRef `json:"applied,omitempty"`
	Unapplied   []types.OperationRef `json:"unapplied,omitempty"`
	Missing     []string             `json:"missing,omitempty"`
}

// MutationSuccessResponse sends a success response for deletes and other mutations without a body
func MutationSuccessResponse(c *fiber.Ctx, affectedRows int64) error {
	return c.Status(fiber.StatusOK).JSON(SuccessResponseStruct{
		Message:      "Success",
		Ok:           true,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		AffectedRows: affectedRows,
	})
}

// SuccessResponseStruct defines the schema for mutation success responses
type SuccessResponseStruct struct {
	Message      string `json:"message"`
	Ok           bool   `json:"ok"`
	Timestamp    string `json:"timestamp"`
	AffectedRows int64  `json:"affectedRows"`
}
