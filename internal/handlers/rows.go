// rows.go
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
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/localnerve/doctypesdb/internal/utils"
)

// RowHandler handles row access on document type tables
type RowHandler struct {
	Engine *services.Engine
}

// RowList is the body of a row listing
type RowList struct {
	Rows  []*rows.Row `json:"rows"`
	Total int64       `json:"total"`
}

// RowRequest carries attribute values keyed by attribute name
type RowRequest struct {
	Values map[string]interface{} `json:"values"`
	FileID types.FlexUint64       `json:"file_id,omitempty"`
}

// FileRequest links or unlinks a stored file
type FileRequest struct {
	FileID types.FlexUint64 `json:"file_id"`
}

func (h *RowHandler) accessor(c *fiber.Ctx) (*rows.Accessor, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	return h.Engine.Rows(c.UserContext(), id)
}

// List handles GET /api/doctypes/:id/rows
// @Summary List rows
// @Description Filter with where.<attribute>=value, search text attributes with q
// @Tags Rows
// @Produce json
// @Param id path int true "Document type ID"
// @Param q query string false "Search text"
// @Param order_by query string false "Attribute or base column"
// @Param desc query bool false "Descending order"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Param with_file query bool false "Include linked file records"
// @Success 200 {object} RowList
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows [get]
func (h *RowHandler) List(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	list, err := acc.List(c.UserContext(), opts)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	total, err := acc.Count(c.UserContext(), opts)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	if list == nil {
		list = []*rows.Row{}
	}
	return c.Status(fiber.StatusOK).JSON(RowList{Rows: list, Total: total})
}

// Get handles GET /api/doctypes/:id/rows/:row
// @Summary Get a row
// @Tags Rows
// @Produce json
// @Param id path int true "Document type ID"
// @Param row path int true "Row ID"
// @Param with_file query bool false "Include the linked file record"
// @Success 200 {object} rows.Row
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows/{row} [get]
func (h *RowHandler) Get(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	rowID, err := paramID(c, "row")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	row, err := acc.Get(c.UserContext(), rowID, c.QueryBool("with_file", false))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(row)
}

// Insert handles POST /api/doctypes/:id/rows
// @Summary Insert a row
// @Tags Rows
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param body body RowRequest true "Attribute values"
// @Success 201 {object} rows.Row
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows [post]
func (h *RowHandler) Insert(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req RowRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	row, err := acc.Insert(c.UserContext(), req.Values, req.FileID.Ptr())
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// Update handles PATCH /api/doctypes/:id/rows/:row
// @Summary Update a row
// @Description Only the attributes present in values are written
// @Tags Rows
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param row path int true "Row ID"
// @Param body body RowRequest true "Attribute values"
// @Success 200 {object} rows.Row
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows/{row} [patch]
func (h *RowHandler) Update(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	rowID, err := paramID(c, "row")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req RowRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	row, err := acc.Update(c.UserContext(), rowID, req.Values)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(row)
}

// SetFile handles PUT /api/doctypes/:id/rows/:row/file
// @Summary Link a file to a row
// @Description A null file_id unlinks the current file
// @Tags Rows
// @Accept json
// @Produce json
// @Param id path int true "Document type ID"
// @Param row path int true "Row ID"
// @Param body body FileRequest true "File"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows/{row}/file [put]
func (h *RowHandler) SetFile(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	rowID, err := paramID(c, "row")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	var req FileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	if err := acc.SetFile(c.UserContext(), rowID, req.FileID.Ptr()); err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return utils.MutationSuccessResponse(c, 1)
}

// Delete handles DELETE /api/doctypes/:id/rows/:row
// @Summary Delete a row
// @Tags Rows
// @Produce json
// @Param id path int true "Document type ID"
// @Param row path int true "Row ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /doctypes/{id}/rows/{row} [delete]
func (h *RowHandler) Delete(c *fiber.Ctx) error {
	acc, err := h.accessor(c)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	rowID, err := paramID(c, "row")
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	if err := acc.Delete(c.UserContext(), rowID); err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return utils.MutationSuccessResponse(c, 1)
}
