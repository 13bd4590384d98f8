// doctypes.go
//
// Dynamic document type schema and table lifecycle engine
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of doctypesdb.
// doctypesdb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// doctypesdb is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with doctypesdb.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/middleware"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/utils"
)

// DocTypeHandler handles document type lifecycle routes
type DocTypeHandler struct {
	Engine *services.Engine
}

// AttributeRequest carries one attribute and optional converters for its kind change
type AttributeRequest struct {
	Attribute   schema.AttributeSpec `json:"attribute"`
	Conversions map[string]string    `json:"conversions,omitempty"`
}

// ReorderRequest lists attribute names in their new display order
type ReorderRequest struct {
	Order []string `json:"order"`
}

// List handles GET /api/doctypes
// @Summary List document types
// @Description List active document types
// @Tags DocTypes
// @Produce json
// @Success 200 {array} models.DocumentType
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /doctypes [get]
func (h *DocTypeHandler) List(c *fiber.Ctx) error {
	list, err := h.Engine.List(c.UserContext())
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(list)
}

// Get handles GET /api/doctypes/:id
// @Summary Get a document type
// @Tags DocTypes
// @Produce json
// @Param id path int true "Document type ID"
// @Success 200 {object} models.DocumentType
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id} [get]
func (h *DocTypeHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	dt, err := h.Engine.Get(c.UserContext(), id)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(dt)
}

// Describe handles GET /api/doctypes/:id/describe
// @Summary Describe a document type table
// @Description Table name and ordered column list for queries and exports
// @Tags DocTypes
// @Produce json
// @Param id path int true "Document type ID"
// @Success 200 {object} services.Description
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/describe [get]
func (h *DocTypeHandler) Describe(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	d, err := h.Engine.Describe(c.UserContext(), id)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}

// Create handles POST /api/doctypes
// @Summary Create a document type
// @Description Validate the schema, create its table and record the document type
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param body body services.CreateInput true "Document type"
// @Success 201 {object} models.DocumentType
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Failure 423 {object} utils.ErrorResponseStruct
// @Router /doctypes [post]
func (h *DocTypeHandler) Create(c *fiber.Ctx) error {
	var in services.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	in.UserID = middleware.UserID(c)
	dt, err := h.Engine.Create(c.UserContext(), in)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dt)
}

// CreateFromDraft handles POST /api/drafts/:name/commit
// @Summary Commit a draft
// @Description Create a document type from a draft, removing the draft unless keep=true
// @Tags Drafts
// @Accept json
// @Produce json
// @Param name path string true "Draft name"
// @Param keep query bool false "Keep the draft"
// @Param body body services.CreateInput false "Name and descriptions"
// @Success 201 {object} models.DocumentType
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /drafts/{name}/commit [post]
func (h *DocTypeHandler) CreateFromDraft(c *fiber.Ctx) error {
	var in services.CreateInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return utils.EngineErrorResponse(c, bodyError(err))
		}
	}
	dt, err := h.Engine.CreateFromDraft(c.UserContext(), middleware.UserID(c), c.Params("name"), in, c.QueryBool("keep", false))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dt)
}

// Alter handles PUT /api/doctypes/:id/schema
// @Summary Alter a document type schema
// @Description Converge the table and schema_form on a full target schema
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body services.AlterRequest true "Target schema"
// @Success 200 {object} services.AlterResult
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 423 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/schema [put]
func (h *DocTypeHandler) Alter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req services.AlterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	res, err := h.Engine.Alter(c.UserContext(), id, req)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// PlanAlter handles POST /api/doctypes/:id/plan
// @Summary Preview an alter
// @Description Compute the column operations an alter would run
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body services.AlterRequest true "Target schema"
// @Success 200 {array} types.OperationRef
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/plan [post]
func (h *DocTypeHandler) PlanAlter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req services.AlterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	plan, err := h.Engine.PlanAlter(c.UserContext(), id, req)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(plan.Refs(0, len(plan.Operations)))
}

// InsertAttribute handles POST /api/doctypes/:id/attributes
// @Summary Add an attribute
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body AttributeRequest true "Attribute"
// @Success 200 {object} services.AlterResult
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/attributes [post]
func (h *DocTypeHandler) InsertAttribute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req AttributeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	res, err := h.Engine.InsertAttribute(c.UserContext(), id, req.Attribute, services.AlterRequest{Conversions: req.Conversions})
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// EditAttribute handles PUT /api/doctypes/:id/attributes/:name
// @Summary Edit an attribute
// @Description Replace an attribute; a new name renames its column
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param name path string true "Attribute name"
// @Param body body AttributeRequest true "Attribute"
// @Success 200 {object} services.AlterResult
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/attributes/{name} [put]
func (h *DocTypeHandler) EditAttribute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req AttributeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	res, err := h.Engine.EditAttribute(c.UserContext(), id, c.Params("name"), req.Attribute, services.AlterRequest{Conversions: req.Conversions})
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// DeleteAttribute handles DELETE /api/doctypes/:id/attributes/:name
// @Summary Delete an attribute
// @Tags DocTypes
// @Produce json
// @Param id path int true "Document type ID"
// @Param name path string true "Attribute name"
// @Success 200 {object} services.AlterResult
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/attributes/{name} [delete]
func (h *DocTypeHandler) DeleteAttribute(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	res, err := h.Engine.DeleteAttribute(c.UserContext(), id, c.Params("name"))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// Reorder handles PUT /api/doctypes/:id/order
// @Summary Reorder attributes
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body ReorderRequest true "Attribute names in order"
// @Success 200 {object} services.AlterResult
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/order [put]
func (h *DocTypeHandler) Reorder(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req ReorderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	res, err := h.Engine.Reorder(c.UserContext(), id, req.Order)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// UpdateDetails handles PATCH /api/doctypes/:id
// @Summary Update document type details
// @Tags DocTypes
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body services.DetailsInput true "Details"
// @Success 200 {object} models.DocumentType
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id} [patch]
func (h *DocTypeHandler) UpdateDetails(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var in services.DetailsInput
	if err := c.BodyParser(&in); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	dt, err := h.Engine.UpdateDetails(c.UserContext(), id, in)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(dt)
}

// Trash handles DELETE /api/doctypes/:id
// @Summary Trash a document type
// @Description Park the table and deactivate the document type; rows are kept
// @Tags Trash
// @Produce json
// @Param id path int true "Document type ID"
// @Success 200 {object} models.TrashedDocumentType
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id} [delete]
func (h *DocTypeHandler) Trash(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	entry, err := h.Engine.Trash(c.UserContext(), id)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(entry)
}

// ListTrashed handles GET /api/trash
// @Summary List trashed document types
// @Tags Trash
// @Produce json
// @Success 200 {array} models.TrashedDocumentType
// @Router /trash [get]
func (h *DocTypeHandler) ListTrashed(c *fiber.Ctx) error {
	list, err := h.Engine.ListTrashed(c.UserContext())
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(list)
}

// Restore handles POST /api/trash/:id/restore
// @Summary Restore a trashed document type
// @Tags Trash
// @Produce json
// @Param id path int true "Document type ID"
// @Success 200 {object} models.DocumentType
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /trash/{id}/restore [post]
func (h *DocTypeHandler) Restore(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	dt, err := h.Engine.Restore(c.UserContext(), id)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(dt)
}

// Destroy handles DELETE /api/trash/:id
// @Summary Destroy a trashed document type
// @Description Drop the parked table and remove the records. Admin only.
// @Tags Trash
// @Produce json
// @Param id path int true "Document type ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /trash/{id} [delete]
func (h *DocTypeHandler) Destroy(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	if err := h.Engine.Destroy(c.UserContext(), id); err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return utils.MutationSuccessResponse(c, 1)
}

// Reconcile handles POST /api/admin/reconcile
// @Summary Run a reconciliation pass
// @Tags Admin
// @Produce json
// @Param dry_run query bool false "Report only"
// @Param drop_non_empty query bool false "Drop orphan tables that hold rows"
// @Success 200 {object} services.ReconcileReport
// @Failure 423 {object} utils.ErrorResponseStruct
// @Router /admin/reconcile [post]
func (h *DocTypeHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.Engine.Reconcile(c.UserContext(), services.ReconcileOptions{
		DryRun:       c.QueryBool("dry_run", false),
		DropNonEmpty: c.QueryBool("drop_non_empty", false),
	})
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(report)
}
