// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/go-playground/validator/v10"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// TenantHeader lets platform administrators pick the tenant a request
// operates on. The tenantId query parameter does the same.
const TenantHeader = "X-Tenant-ID"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so they line up with source.pointer.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a request body into dst and validates it. Both a bare
// attributes object and a JSON:API {"data":{"attributes":{...}}} document
// are accepted. An empty body decodes to the zero value.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return apperr.Validation("invalid_body", "request body could not be read")
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		var doc struct {
			Data *struct {
				Attributes json.RawMessage `json:"attributes"`
			} `json:"data"`
		}
		if json.Unmarshal(body, &doc) == nil && doc.Data != nil && len(doc.Data.Attributes) > 0 {
			body = doc.Data.Attributes
		}
		if err := json.Unmarshal(body, dst); err != nil {
			return apperr.Validation("invalid_body", "request body must be valid JSON: "+err.Error())
		}
	}
	return check(dst)
}

// check runs struct validation and converts failures to field errors.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return apperr.Validation("invalid_input", "request validation failed", fields...)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// statusOf maps an error kind to its HTTP status.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindCapacity:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// renderErr writes err as a JSON:API error document. Unclassified errors
// are logged and rendered as a generic 500.
func renderErr(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := statusOf(e.Kind)
	if e.Kind == apperr.KindInternal {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		jsonapi.RenderError(w, status, e.Code, http.StatusText(status), "internal server error")
		return
	}
	if len(e.Fields) == 0 {
		jsonapi.RenderError(w, status, e.Code, http.StatusText(status), e.Message)
		return
	}
	objs := make([]jsonapi.ErrorObject, 0, len(e.Fields))
	for _, f := range e.Fields {
		objs = append(objs, jsonapi.ErrorObject{
			Status: http.StatusText(status),
			Code:   e.Code,
			Title:  e.Message,
			Detail: f.Field + " " + f.Message,
			Source: &jsonapi.ErrorSource{Pointer: "/data/attributes/" + f.Field},
		})
	}
	jsonapi.RenderErrors(w, status, objs)
}

// principal returns the authenticated caller. Routes behind RequireAuth
// always carry one; elsewhere the zero Principal fails every role check.
func principal(r *http.Request) access.Principal {
	p, _ := access.FromContext(r.Context())
	return p
}

// requestedTenant returns the tenant named by header or query, or "".
func requestedTenant(r *http.Request) string {
	if t := r.Header.Get(TenantHeader); t != "" {
		return t
	}
	return r.URL.Query().Get("tenantId")
}

// tenantOf resolves the tenant the request operates on.
func tenantOf(r *http.Request, p access.Principal) (string, error) {
	return access.ResolveTenant(p, requestedTenant(r))
}

// flag parses an optional boolean query parameter.
func flag(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	switch v {
	case "":
		return nil, nil
	case "true", "1":
		t := true
		return &t, nil
	case "false", "0":
		f := false
		return &f, nil
	default:
		return nil, apperr.Validation("invalid_query", name+" must be true or false",
			apperr.FieldError{Field: name, Message: "must be true or false"})
	}
}

// pageOf parses paging parameters for one of the resource's sortable sets.
func pageOf(r *http.Request, allowed paging.Sortable) (paging.Params, error) {
	return paging.Parse(r.URL.Query(), allowed)
}

// renderPage writes a page of resources with meta.page and links.
func renderPage(w http.ResponseWriter, r *http.Request, data []any, m paging.Meta) {
	pg := jsonapi.Pagination{Page: m.Page, Limit: m.Limit, Total: m.Total, TotalPages: m.TotalPages}
	jsonapi.RenderList(w, http.StatusOK, data, &pg, jsonapi.PageLinks(r.URL, pg))
}

// resources converts rows to resource objects.
func resources[T any](rows []T, view func(*T) jsonapi.ResourceObject) []any {
	out := make([]any, 0, len(rows))
	for i := range rows {
		out = append(out, view(&rows[i]))
	}
	return out
}

// optional distinguishes an absent JSON member from an explicit null.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// date is a calendar date in YYYY-MM-DD form.
type date struct{ time.Time }

func (d *date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

func (d *date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// secret decodes one credential member from a raw JSON object. Credential
// fields stay unexported on request types so they never marshal back out.
func secret(obj map[string]json.RawMessage, key string, dst *string) error {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(v, dst)
}
