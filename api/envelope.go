package api

import (
	"encoding/json"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/casdoc/casdoc/tools"
)

// CommandResult is the uniform response envelope. Every response is HTTP
// 200; clients distinguish outcomes by which of data/status/errors are
// present and by the stable errorCode values.
type CommandResult struct {
	Data   *ResponseData  `json:"data,omitempty"`
	Status map[string]any `json:"status,omitempty"`
	Errors []CommandError `json:"errors,omitempty"`
}

// ResponseData carries read results. Document is set (possibly JSON null)
// for single-document commands; Documents for multi-document ones.
type ResponseData struct {
	Documents     []json.RawMessage `json:"documents,omitempty"`
	Document      json.RawMessage   `json:"document,omitempty"`
	NextPageState string            `json:"nextPageState,omitempty"`
}

// CommandError is one entry of the envelope's errors array.
type CommandError struct {
	Message        string `json:"message"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ExceptionClass string `json:"exceptionClass"`
}

// errorResult folds any failure into an envelope.
func errorResult(err error) *CommandResult {
	apiErr := tools.AsAPIError(err)
	return &CommandResult{Errors: []CommandError{{
		Message:        apiErr.Message,
		ErrorCode:      apiErr.Code,
		ExceptionClass: apiErr.ExceptionClass,
	}}}
}

// writeResult serializes the envelope. The status code is always 200.
func writeResult(w http.ResponseWriter, result *CommandResult) {
	body, err := sonic.Marshal(result)
	if err != nil {
		tools.Logger.Error("envelope encode failed", "error", err.Error())
		body = []byte(`{"errors":[{"message":"internal server error","errorCode":"INTERNAL_SERVER_ERROR","exceptionClass":"JsonApiException"}]}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
