package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/doctypesdb/internal/handlers"
	"github.com/localnerve/doctypesdb/internal/middleware"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/localnerve/doctypesdb/internal/utils"
)

// setupApp mounts every route behind Identity on a fresh SQLite database
func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	engine, err := services.NewEngine(testutil.NewDB(t), services.Options{
		LockTTL:     5 * time.Second,
		LockRefresh: time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return utils.EngineErrorResponse(c, err)
		},
	})
	api := app.Group("/api", middleware.Identity())
	handlers.Register(api, engine)
	return app
}

// call sends a request as user-1 and decodes the response body into out when given
func call(t *testing.T, app *fiber.App, method, path string, body interface{}, out interface{}, roles ...string) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderUserID, "user-1")
	for _, r := range roles {
		req.Header.Add(middleware.HeaderUserRole, r)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func invoiceBody() map[string]interface{} {
	return map[string]interface{}{
		"name":   "Invoice",
		"schema": testutil.InvoiceSchema(),
	}
}

// TestMissingIdentity tests that requests without a user id are rejected
func TestMissingIdentity(t *testing.T) {
	app := setupApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/doctypes", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.StatusCode)
	}
}

// TestCreateAndDescribe tests POST /api/doctypes then GET /api/doctypes/:id/describe
func TestCreateAndDescribe(t *testing.T) {
	app := setupApp(t)

	var created map[string]interface{}
	if status := call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), &created); status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if created["table_name"] != "dt_invoice" {
		t.Errorf("Expected table dt_invoice, got %v", created["table_name"])
	}

	var desc services.Description
	if status := call(t, app, http.MethodGet, "/api/doctypes/1/describe", nil, &desc); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(desc.Columns) != 2 || desc.Columns[0].Column != "amount" {
		t.Errorf("Unexpected columns: %+v", desc.Columns)
	}

	var list []map[string]interface{}
	call(t, app, http.MethodGet, "/api/doctypes", nil, &list)
	if len(list) != 1 {
		t.Errorf("Expected 1 document type, got %d", len(list))
	}
}

// TestCreateValidationErrors tests that every schema problem is reported at once
func TestCreateValidationErrors(t *testing.T) {
	app := setupApp(t)

	body := map[string]interface{}{
		"name": "Invoice",
		"schema": []map[string]interface{}{
			{"name": "id", "type": "text"},
			{"name": "status", "type": "select"},
			{"name": "Status", "type": "text"},
		},
	}
	var res utils.ErrorResponseStruct
	if status := call(t, app, http.MethodPost, "/api/doctypes", body, &res); status != fiber.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", status)
	}
	if res.Type != "validation" {
		t.Errorf("Expected validation type, got %q", res.Type)
	}
	if len(res.Errors) < 3 {
		t.Errorf("Expected at least 3 errors, got %+v", res.Errors)
	}
	if res.ChangeState != types.ChangeNone {
		t.Errorf("Expected no change, got %q", res.ChangeState)
	}
}

// TestNameConflict tests that a second active type with the same name is a conflict
func TestNameConflict(t *testing.T) {
	app := setupApp(t)

	call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), nil)
	var res utils.ErrorResponseStruct
	if status := call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), &res); status != fiber.StatusConflict {
		t.Fatalf("Expected status 409, got %d", status)
	}
	if res.Type != "naming_conflict" {
		t.Errorf("Expected naming_conflict, got %q", res.Type)
	}
}

// TestAlterAndPlan tests the plan preview and the schema alter route
func TestAlterAndPlan(t *testing.T) {
	app := setupApp(t)
	call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), nil)

	target := map[string]interface{}{
		"schema": []map[string]interface{}{
			{"name": "amount", "type": "number"},
			{"name": "status", "type": "select", "options": []string{"draft", "sent", "paid"}},
			{"name": "due", "type": "date"},
		},
	}
	var plan []map[string]interface{}
	if status := call(t, app, http.MethodPost, "/api/doctypes/1/plan", target, &plan); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(plan) == 0 {
		t.Fatal("Expected a non-empty plan")
	}

	var res services.AlterResult
	if status := call(t, app, http.MethodPut, "/api/doctypes/1/schema", target, &res); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if got := res.DocumentType.SchemaForm.Names(); len(got) != 3 || got[2] != "due" {
		t.Errorf("Unexpected schema after alter: %v", got)
	}
}

// TestRowsRoundTrip tests insert, list, update and delete on a document type table
func TestRowsRoundTrip(t *testing.T) {
	app := setupApp(t)
	call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), nil)

	var row map[string]interface{}
	status := call(t, app, http.MethodPost, "/api/doctypes/1/rows", map[string]interface{}{
		"values": map[string]interface{}{"amount": 125, "status": "sent"},
	}, &row)
	if status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	values, _ := row["values"].(map[string]interface{})
	if values["amount"] != float64(125) {
		t.Errorf("Expected amount 125, got %v", values["amount"])
	}

	var bad utils.ErrorResponseStruct
	status = call(t, app, http.MethodPost, "/api/doctypes/1/rows", map[string]interface{}{
		"values": map[string]interface{}{"amount": -1, "status": "lost"},
	}, &bad)
	if status != fiber.StatusBadRequest || len(bad.Errors) != 2 {
		t.Errorf("Expected 400 with 2 errors, got %d %+v", status, bad.Errors)
	}

	var list handlers.RowList
	call(t, app, http.MethodGet, "/api/doctypes/1/rows?where.status=sent", nil, &list)
	if list.Total != 1 || len(list.Rows) != 1 {
		t.Errorf("Expected 1 row, got %d", list.Total)
	}

	var updated map[string]interface{}
	status = call(t, app, http.MethodPatch, "/api/doctypes/1/rows/1", map[string]interface{}{
		"values": map[string]interface{}{"status": "paid"},
	}, &updated)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	values, _ = updated["values"].(map[string]interface{})
	if values["status"] != "paid" || values["amount"] != float64(125) {
		t.Errorf("Unexpected values after update: %v", values)
	}

	if status := call(t, app, http.MethodDelete, "/api/doctypes/1/rows/1", nil, nil); status != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if status := call(t, app, http.MethodGet, "/api/doctypes/1/rows/1", nil, nil); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status)
	}
}

// TestTrashRestoreDestroy tests the trash lifecycle routes and the admin guard
func TestTrashRestoreDestroy(t *testing.T) {
	app := setupApp(t)
	call(t, app, http.MethodPost, "/api/doctypes", invoiceBody(), nil)

	if status := call(t, app, http.MethodDelete, "/api/doctypes/1", nil, nil); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	var trashed []map[string]interface{}
	call(t, app, http.MethodGet, "/api/trash", nil, &trashed)
	if len(trashed) != 1 {
		t.Fatalf("Expected 1 trashed type, got %d", len(trashed))
	}
	if status := call(t, app, http.MethodGet, "/api/doctypes/1/rows", nil, nil); status != fiber.StatusConflict {
		t.Errorf("Expected status 409 for rows of a trashed type, got %d", status)
	}

	if status := call(t, app, http.MethodPost, "/api/trash/1/restore", nil, nil); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	call(t, app, http.MethodDelete, "/api/doctypes/1", nil, nil)

	if status := call(t, app, http.MethodDelete, "/api/trash/1", nil, nil); status != fiber.StatusForbidden {
		t.Errorf("Expected status 403 without admin role, got %d", status)
	}
	if status := call(t, app, http.MethodDelete, "/api/trash/1", nil, nil, handlers.AdminRole); status != fiber.StatusOK {
		t.Errorf("Expected status 200 with admin role, got %d", status)
	}
	if status := call(t, app, http.MethodGet, "/api/doctypes/1", nil, nil); status != fiber.StatusNotFound {
		t.Errorf("Expected status 404 after destroy, got %d", status)
	}
}

// TestDraftCommit tests saving a draft and committing it into a document type
func TestDraftCommit(t *testing.T) {
	app := setupApp(t)

	status := call(t, app, http.MethodPut, "/api/drafts/Invoice", map[string]interface{}{
		"schema": testutil.InvoiceSchema(),
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	status = call(t, app, http.MethodPost, "/api/drafts/Invoice/attributes", map[string]interface{}{
		"name": "due", "type": "date",
	}, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	var created map[string]interface{}
	if status := call(t, app, http.MethodPost, "/api/drafts/Invoice/commit", nil, &created); status != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if created["name"] != "Invoice" {
		t.Errorf("Expected name Invoice, got %v", created["name"])
	}
	if status := call(t, app, http.MethodGet, "/api/drafts/Invoice", nil, nil); status != fiber.StatusNotFound {
		t.Errorf("Expected committed draft to be removed, got %d", status)
	}
}

// TestReconcileRequiresAdmin tests the maintenance route guard and dry run report
func TestReconcileRequiresAdmin(t *testing.T) {
	app := setupApp(t)

	if status := call(t, app, http.MethodPost, "/api/admin/reconcile", nil, nil); status != fiber.StatusForbidden {
		t.Errorf("Expected status 403, got %d", status)
	}
	var report services.ReconcileReport
	if status := call(t, app, http.MethodPost, "/api/admin/reconcile?dry_run=true", nil, &report, handlers.AdminRole); status != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if !report.DryRun {
		t.Error("Expected a dry run report")
	}
}
