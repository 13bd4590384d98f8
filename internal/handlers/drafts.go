// drafts.go
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
	"github.com/localnerve/doctypesdb/internal/drafts"
	"github.com/localnerve/doctypesdb/internal/middleware"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/utils"
)

// DraftHandler handles per-user schema draft routes
type DraftHandler struct {
	Drafts *drafts.Store
}

// DraftRequest is the body of a draft save
type DraftRequest struct {
	Schema []schema.AttributeSpec `json:"schema"`
}

// List handles GET /api/drafts
// @Summary List drafts
// @Description List the calling user's drafts
// @Tags Drafts
// @Produce json
// @Success 200 {array} drafts.Draft
// @Router /drafts [get]
func (h *DraftHandler) List(c *fiber.Ctx) error {
	list, err := h.Drafts.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(list)
}

// Get handles GET /api/drafts/:name
// @Summary Get a draft
// @Tags Drafts
// @Produce json
// @Param name path string true "Draft name"
// @Success 200 {object} drafts.Draft
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /drafts/{name} [get]
func (h *DraftHandler) Get(c *fiber.Ctx) error {
	d, err := h.Drafts.Get(c.UserContext(), middleware.UserID(c), c.Params("name"))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}

// Save handles PUT /api/drafts/:name
// @Summary Save a draft
// @Description Create or replace a draft attribute list
// @Tags Drafts
// @Accept json
// @Produce json
// @Param name path string true "Draft name"
// @Param body body DraftRequest true "Draft schema"
// @Success 200 {object} drafts.Draft
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /drafts/{name} [put]
func (h *DraftHandler) Save(c *fiber.Ctx) error {
	var req DraftRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	d, err := h.Drafts.Save(c.UserContext(), middleware.UserID(c), c.Params("name"), req.Schema)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}

// AppendAttribute handles POST /api/drafts/:name/attributes
// @Summary Append a draft attribute
// @Tags Drafts
// @Accept json
// @Produce json
// @Param name path string true "Draft name"
// @Param body body schema.AttributeSpec true "Attribute"
// @Success 200 {object} drafts.Draft
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /drafts/{name}/attributes [post]
func (h *DraftHandler) AppendAttribute(c *fiber.Ctx) error {
	var attr schema.AttributeSpec
	if err := c.BodyParser(&attr); err != nil {
		return utils.EngineErrorResponse(c, bodyError(err))
	}
	d, err := h.Drafts.AppendAttribute(c.UserContext(), middleware.UserID(c), c.Params("name"), attr)
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}

// RemoveAttribute handles DELETE /api/drafts/:name/attributes/:attr
// @Summary Remove a draft attribute
// @Tags Drafts
// @Produce json
// @Param name path string true "Draft name"
// @Param attr path string true "Attribute name"
// @Success 200 {object} drafts.Draft
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /drafts/{name}/attributes/{attr} [delete]
func (h *DraftHandler) RemoveAttribute(c *fiber.Ctx) error {
	d, err := h.Drafts.RemoveAttribute(c.UserContext(), middleware.UserID(c), c.Params("name"), c.Params("attr"))
	if err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(d)
}

// Delete handles DELETE /api/drafts/:name
// @Summary Delete a draft
// @Tags Drafts
// @Produce json
// @Param name path string true "Draft name"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /drafts/{name} [delete]
func (h *DraftHandler) Delete(c *fiber.Ctx) error {
	if err := h.Drafts.Delete(c.UserContext(), middleware.UserID(c), c.Params("name")); err != nil {
		return utils.EngineErrorResponse(c, err)
	}
	return utils.MutationSuccessResponse(c, 1)
}
