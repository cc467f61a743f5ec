package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/quartzline/docforge/internal/docs"
	"go.uber.org/zap"
)

const userIDContextKey = "docforge_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingDocsService    = errors.New("docs service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns the caller subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	TokenValidator TokenValidator
	DocsService    *docs.Service
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the mutation pipeline.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.DocsService == nil {
		return nil, errMissingDocsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenValidator,
		docsService: deps.DocsService,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)

	documents := protected.Group("/types/:docType/partitions/:partition/documents")
	documents.POST("", handler.handleConstruct)
	documents.GET("", handler.handleSelectMany)
	documents.POST("/query", handler.handleSelectByFilter)
	documents.GET("/:id", handler.handleSelectByID)
	documents.PATCH("/:id", handler.handlePatch)
	documents.PUT("/:id", handler.handleReplace)
	documents.DELETE("/:id", handler.handleDelete)
	documents.POST("/:id/archive", handler.handleArchive)
	documents.POST("/:id/redact", handler.handleRedact)
	documents.GET("/:id/patches", handler.handlePatches)

	syncGroup := protected.Group("/types/:docType/sync")
	syncGroup.GET("/pending", handler.handlePendingSync)
	syncGroup.POST("/mark", handler.handleMarkSynced)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	docsService *docs.Service
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type documentPayload struct {
	ID            string         `json:"id"`
	Partition     string         `json:"partition"`
	DocType       string         `json:"docType"`
	Fields        map[string]any `json:"fields"`
	DocVersion    string         `json:"docVersion"`
	DocSyncNeeded bool           `json:"docSyncNeeded"`
	DocArchived   bool           `json:"docArchived"`
	UpdatedMillis int64          `json:"updatedMs"`
}

func toDocumentPayload(doc docs.Document) documentPayload {
	return documentPayload{
		ID:            doc.ID,
		Partition:     doc.Partition,
		DocType:       doc.DocType,
		Fields:        doc.Fields,
		DocVersion:    doc.DocVersion,
		DocSyncNeeded: doc.DocSyncNeeded,
		DocArchived:   doc.DocArchived,
		UpdatedMillis: doc.LastUpdatedMillis,
	}
}

type constructRequestPayload struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (h *httpHandler) handleConstruct(c *gin.Context) {
	var request constructRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.Construct(c.Request.Context(), docs.ConstructRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          request.ID,
		Fields:      request.Fields,
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"isNew":  result.IsNew,
		"doc":    toDocumentPayload(result.Doc),
		"change": result.Change,
	})
}

type patchRequestPayload struct {
	OperationID string         `json:"operationId"`
	Patch       map[string]any `json:"patch"`
}

func (h *httpHandler) handlePatch(c *gin.Context) {
	var request patchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.Patch(c.Request.Context(), docs.PatchRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		OperationID: request.OperationID,
		Patch:       decodePatchBody(request.Patch),
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isUpdated": result.IsUpdated,
		"doc":       toDocumentPayload(result.Doc),
		"change":    result.Change,
	})
}

type replaceRequestPayload struct {
	Fields map[string]any `json:"fields"`
}

func (h *httpHandler) handleReplace(c *gin.Context) {
	var request replaceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.Replace(c.Request.Context(), docs.ReplaceRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		Fields:      request.Fields,
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"doc": toDocumentPayload(result.Doc)})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	result, err := h.docsService.Delete(c.Request.Context(), docs.DeleteRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isDeleted": result.IsDeleted,
		"change":    result.Change,
	})
}

type archiveRequestPayload struct {
	OperationID string `json:"operationId"`
}

func (h *httpHandler) handleArchive(c *gin.Context) {
	var request archiveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.Archive(c.Request.Context(), docs.ArchiveRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		OperationID: request.OperationID,
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isArchived": result.IsArchived,
		"doc":        toDocumentPayload(result.Doc),
		"change":     result.Change,
	})
}

type redactRequestPayload struct {
	OperationID string         `json:"operationId"`
	Patch       map[string]any `json:"patch"`
	RedactValue string         `json:"redactValue"`
}

func (h *httpHandler) handleRedact(c *gin.Context) {
	var request redactRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.Redact(c.Request.Context(), docs.RedactRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		OperationID: request.OperationID,
		Patch:       decodePatchBody(request.Patch),
		RedactValue: request.RedactValue,
		UserID:      c.GetString(userIDContextKey),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isRedacted": result.IsRedacted,
		"doc":        toDocumentPayload(result.Doc),
		"change":     result.Change,
	})
}

func (h *httpHandler) handleSelectByID(c *gin.Context) {
	request := docs.SelectRequest{
		DocTypeName: c.Param("docType"),
		Partition:   c.Param("partition"),
		ID:          c.Param("id"),
		FieldNames:  splitFieldNames(c.Query("fieldNames")),
	}

	if c.Query("strict") == "true" {
		doc, err := h.docsService.GetByID(c.Request.Context(), request)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"doc": toDocumentPayload(doc)})
		return
	}

	result, err := h.docsService.SelectByID(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if result.Doc == nil {
		c.JSON(http.StatusOK, gin.H{"doc": nil, "queryCost": result.QueryCost})
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc": toDocumentPayload(*result.Doc), "queryCost": result.QueryCost})
}

func (h *httpHandler) handleSelectMany(c *gin.Context) {
	docTypeName := c.Param("docType")
	partition := c.Param("partition")
	fieldNames := splitFieldNames(c.Query("fieldNames"))

	var result docs.SelectManyResult
	var err error
	if idsParam := c.Query("ids"); idsParam != "" {
		result, err = h.docsService.SelectByIDs(c.Request.Context(), docTypeName, partition, strings.Split(idsParam, ","), fieldNames, nil)
	} else {
		result, err = h.docsService.SelectAll(c.Request.Context(), docTypeName, partition, fieldNames, nil)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondDocuments(c, result)
}

type filterRequestPayload struct {
	Filter     map[string]any `json:"filter"`
	FieldNames []string       `json:"fieldNames"`
}

func (h *httpHandler) handleSelectByFilter(c *gin.Context) {
	var request filterRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.docsService.SelectByFilter(c.Request.Context(), c.Param("docType"), c.Param("partition"), docs.Filter(request.Filter), request.FieldNames, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondDocuments(c, result)
}

func (h *httpHandler) handlePatches(c *gin.Context) {
	from, _ := strconv.Atoi(c.DefaultQuery("from", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := h.docsService.Patches(c.Request.Context(), c.Param("partition"), c.Param("id"), from, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patches": records})
}

func (h *httpHandler) handlePendingSync(c *gin.Context) {
	headers, err := h.docsService.SelectPendingSync(c.Request.Context(), c.Param("docType"), nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": headers})
}

type markSyncedPayload struct {
	ID         string `json:"id"`
	Partition  string `json:"partition"`
	ReqVersion string `json:"reqVersion"`
}

func (h *httpHandler) handleMarkSynced(c *gin.Context) {
	var request markSyncedPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.docsService.MarkSynced(c.Request.Context(), c.Param("docType"), request.ID, request.Partition, request.ReqVersion, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) respondDocuments(c *gin.Context, result docs.SelectManyResult) {
	payloads := make([]documentPayload, 0, len(result.Docs))
	for _, doc := range result.Docs {
		payloads = append(payloads, toDocumentPayload(doc))
	}
	c.JSON(http.StatusOK, gin.H{"docs": payloads, "queryCost": result.QueryCost})
}

// respondError maps the pipeline error taxonomy onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, docs.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict"})
	case errors.Is(err, docs.ErrPolicyViolation):
		c.JSON(http.StatusForbidden, gin.H{"error": "policy_violation"})
	case errors.Is(err, docs.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed"})
	case errors.Is(err, docs.ErrInvalidDocID),
		errors.Is(err, docs.ErrInvalidPartition),
		errors.Is(err, docs.ErrInvalidOperationID),
		errors.Is(err, docs.ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		var serviceErr *docs.ServiceError
		if errors.As(err, &serviceErr) && strings.HasSuffix(serviceErr.Code(), "unknown_type") {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_doc_type"})
			return
		}
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// decodePatchBody maps the JSON patch encoding onto the pipeline's patch
// body: an explicit null value deletes the field.
func decodePatchBody(raw map[string]any) docs.PatchBody {
	patch := make(docs.PatchBody, len(raw))
	for fieldName, value := range raw {
		if value == nil {
			patch[fieldName] = docs.DeleteField
			continue
		}
		patch[fieldName] = value
	}
	return patch
}

func splitFieldNames(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fieldNames := make([]string, 0, len(parts))
	for _, part := range parts {
		if cleaned := strings.TrimSpace(part); cleaned != "" {
			fieldNames = append(fieldNames, cleaned)
		}
	}
	return fieldNames
}
