package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, "Submission created", map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Submission created", body["message"])
	assert.EqualValues(t, 201, body["code"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotContains(t, body, "errors")
}

func TestErrorEnvelopeForAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, TooManyRequests(map[string]interface{}{"remaining": map[string]int64{"client:shortTerm": -1}}))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.EqualValues(t, 429, body["code"])
	assert.Len(t, body["errors"], 1)
	assert.Contains(t, body["data"], "remaining")
}

func TestErrorEnvelopeAlwaysListsErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, Forbidden("Origin not allowed or invalid project key"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors":[]`)
	body := decode(t, rec)
	assert.Equal(t, []interface{}{}, body["errors"])
}

func TestErrorHidesInternalDetail(t *testing.T) {
	logger.Discard()
	rec := httptest.NewRecorder()
	Error(rec, errors.New("pq: connection refused to 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	type req struct {
		Name     string `json:"name" validate:"required,min=3"`
		Priority string `json:"priority" validate:"oneof=low high"`
	}

	err := ValidateStruct(req{Name: "ab", Priority: "urgent"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)
	assert.Len(t, apiErr.Errors, 2)
	assert.Contains(t, apiErr.Errors[0], "name")

	assert.NoError(t, ValidateStruct(req{Name: "abc", Priority: "low"}))
}
