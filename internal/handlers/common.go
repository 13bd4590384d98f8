// common.go
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
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/types"
)

// whereParamPrefix marks query arguments that filter rows by attribute equality.
const whereParamPrefix = "where."

// paramID parses a positive integer route parameter.
func paramID(c *fiber.Ctx, name string) (uint64, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, types.NewValidationError("", name, "format", "\""+raw+"\" is not a valid id")
	}
	return id, nil
}

// parseListOptions reads row listing options from query arguments.
// Equality filters use "where.<attribute>=<value>"; an empty value matches NULL.
func parseListOptions(c *fiber.Ctx) (rows.ListOptions, error) {
	opts := rows.ListOptions{
		Search:   c.Query("q"),
		OrderBy:  c.Query("order_by"),
		Desc:     c.QueryBool("desc", false),
		WithFile: c.QueryBool("with_file", false),
		Limit:    c.QueryInt("limit", 50),
		Offset:   c.QueryInt("offset", 0),
	}
	if opts.Limit < 0 || opts.Limit > 1000 {
		return opts, types.NewValidationError("", "limit", "range", "limit must be between 0 and 1000")
	}
	if opts.Offset < 0 {
		return opts, types.NewValidationError("", "offset", "range", "offset must not be negative")
	}

	args := c.Context().QueryArgs()
	for key, value := range args.All() {
		k := string(key)
		if !strings.HasPrefix(k, whereParamPrefix) {
			continue
		}
		if opts.Where == nil {
			opts.Where = make(map[string]interface{})
		}
		attr := strings.TrimPrefix(k, whereParamPrefix)
		if len(value) == 0 {
			opts.Where[attr] = nil
		} else {
			opts.Where[attr] = string(value)
		}
	}
	return opts, nil
}

// bodyError wraps a request body decoding failure.
func bodyError(err error) error {
	return types.NewValidationError("", "body", "format", "invalid request body: "+err.Error())
}
