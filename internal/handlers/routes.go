// routes.go
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
	"github.com/localnerve/doctypesdb/internal/services"
)

// AdminRole is the role required for destructive and maintenance routes.
const AdminRole = "admin"

// Register mounts the document type, draft and row routes on router.
// Identity must already be in the router chain.
func Register(router fiber.Router, engine *services.Engine) {
	docTypes := &DocTypeHandler{Engine: engine}
	draftHandler := &DraftHandler{Drafts: engine.Drafts()}
	rowHandler := &RowHandler{Engine: engine}
	admin := middleware.RequireRole(AdminRole)

	dt := router.Group("/doctypes")
	dt.Get("/", docTypes.List)
	dt.Post("/", docTypes.Create)
	dt.Get("/:id", docTypes.Get)
	dt.Patch("/:id", docTypes.UpdateDetails)
	dt.Delete("/:id", docTypes.Trash)
	dt.Get("/:id/describe", docTypes.Describe)
	dt.Put("/:id/schema", docTypes.Alter)
	dt.Post("/:id/plan", docTypes.PlanAlter)
	dt.Put("/:id/order", docTypes.Reorder)
	dt.Post("/:id/attributes", docTypes.InsertAttribute)
	dt.Put("/:id/attributes/:name", docTypes.EditAttribute)
	dt.Delete("/:id/attributes/:name", docTypes.DeleteAttribute)

	dt.Get("/:id/rows", rowHandler.List)
	dt.Post("/:id/rows", rowHandler.Insert)
	dt.Get("/:id/rows/:row", rowHandler.Get)
	dt.Patch("/:id/rows/:row", rowHandler.Update)
	dt.Delete("/:id/rows/:row", rowHandler.Delete)
	dt.Put("/:id/rows/:row/file", rowHandler.SetFile)

	trash := router.Group("/trash")
	trash.Get("/", docTypes.ListTrashed)
	trash.Post("/:id/restore", docTypes.Restore)
	trash.Delete("/:id", admin, docTypes.Destroy)

	drafts := router.Group("/drafts")
	drafts.Get("/", draftHandler.List)
	drafts.Get("/:name", draftHandler.Get)
	drafts.Put("/:name", draftHandler.Save)
	drafts.Delete("/:name", draftHandler.Delete)
	drafts.Post("/:name/attributes", draftHandler.AppendAttribute)
	drafts.Delete("/:name/attributes/:attr", draftHandler.RemoveAttribute)
	drafts.Post("/:name/commit", docTypes.CreateFromDraft)

	router.Post("/admin/reconcile", admin, docTypes.Reconcile)
}
