package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/services"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"

	// DefaultLimit is the page size when the request omits limit.
	DefaultLimit = 10

	maxRequestBodyBytes = 64 << 10
)

// DataRequest is the POST /data-requests body. Pointers distinguish an
// omitted field from an explicit zero.
type DataRequest struct {
	UserQuery string `json:"user_query"`
	Offset    *int   `json:"offset"`
	Limit     *int   `json:"limit"`
}

// DataResponse is returned for every processed request, successful or not.
type DataResponse struct {
	Status     string           `json:"status"`
	DataLength int64            `json:"data_length"`
	Data       []map[string]any `json:"data"`
	Response   string           `json:"response,omitempty"`
}

// DataRequestService runs one question through the pipeline.
type DataRequestService interface {
	Execute(ctx context.Context, req services.DataRequest) services.Outcome
}

// DataRequestHandler serves the natural-language data endpoint.
type DataRequestHandler struct {
	service DataRequestService
	logger  *zap.Logger
}

// NewDataRequestHandler creates a handler backed by service.
func NewDataRequestHandler(service DataRequestService, logger *zap.Logger) *DataRequestHandler {
	return &DataRequestHandler{service: service, logger: logger.Named("data-requests")}
}

// RegisterRoutes registers the data request route on the given mux.
func (h *DataRequestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /data-requests", h.Create)
}

// Create handles POST /data-requests.
// Every pipeline outcome is answered with HTTP 200 except TranslationError,
// which is a server-side failure and gets HTTP 500 with the same body shape.
func (h *DataRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), h.logger)

	var body DataRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&body); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	req, msg := body.toServiceRequest()
	if msg != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", msg); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	out := h.service.Execute(audit.WithClientIP(r.Context(), clientIP(r)), req)

	statusCode := http.StatusOK
	if out.IsServerError() {
		statusCode = http.StatusInternalServerError
	}
	if err := WriteJSON(w, statusCode, NewDataResponse(out)); err != nil {
		logger.Error("Failed to encode data response", zap.Error(err))
	}
}

// toServiceRequest applies defaults and returns a client-facing message when
// the request is invalid.
func (b DataRequest) toServiceRequest() (services.DataRequest, string) {
	req := services.DataRequest{UserQuery: b.UserQuery, Limit: DefaultLimit}

	if strings.TrimSpace(b.UserQuery) == "" {
		return req, "user_query is required"
	}
	if b.Offset != nil {
		if *b.Offset < 0 {
			return req, "offset must not be negative"
		}
		req.Offset = *b.Offset
	}
	if b.Limit != nil {
		if *b.Limit < 0 {
			return req, "limit must not be negative"
		}
		req.Limit = *b.Limit
	}
	return req, ""
}

// NewDataResponse converts a pipeline outcome into the wire shape.
func NewDataResponse(out services.Outcome) DataResponse {
	if !out.Succeeded() {
		return DataResponse{
			Status:   StatusFailed,
			Data:     []map[string]any{},
			Response: out.Reason,
		}
	}

	data := out.Rows
	if data == nil {
		data = []map[string]any{}
	}
	return DataResponse{
		Status:     StatusSuccess,
		DataLength: out.DataLength,
		Data:       data,
	}
}

// clientIP is the peer address without the port. Proxy headers are not
// trusted because nothing in front of the service is known to set them.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
