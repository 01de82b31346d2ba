package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"postop-platform/internal/audit"
	"postop-platform/internal/auth"
	"postop-platform/internal/calls"
	"postop-platform/internal/rbac"
	"postop-platform/internal/records"
	"postop-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Scheduler *calls.Scheduler
	Records   *records.Service
	Reporting *reporting.Service
	Audit     *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	ClinicID string `json:"clinic_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.ClinicID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, clinic_id, role required"})
		return
	}
	if rbac.IsHiddenRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not available for interactive login"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.ClinicID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Call scheduling ---

type generateCallsRequest struct {
	PatientID        string    `json:"patient_id"`
	PatientPhone     string    `json:"patient_phone"`
	PatientName      string    `json:"patient_name"`
	DischargeTime    time.Time `json:"discharge_time"`
	SelectedOrderIDs []string  `json:"selected_order_ids"`

	// DryRun returns the generated schedule without persisting it.
	DryRun bool `json:"dry_run,omitempty"`
}

// GeneratePatientCalls builds the full follow-up schedule for a discharged
// patient from their selected discharge orders and persists it.
func (h Handlers) GeneratePatientCalls(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}

	var req generateCallsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	result, err := h.Scheduler.GenerateCallsForPatient(c.Request.Context(), calls.GenerateRequest{
		ClinicID:         clinicID,
		PatientID:        req.PatientID,
		PatientPhone:     req.PatientPhone,
		PatientName:      req.PatientName,
		DischargeTime:    req.DischargeTime,
		SelectedOrderIDs: req.SelectedOrderIDs,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	scheduled := 0
	if !req.DryRun {
		scheduled, err = h.Scheduler.ScheduleAll(c.Request.Context(), result.Items)
		if err != nil {
			abortWithServiceError(c, err)
			return
		}
		h.auditOperator(c, clinicID, "generated follow-up schedule for patient "+req.PatientID, "")
	}

	c.JSON(http.StatusOK, gin.H{
		"items":        result.Items,
		"scheduled":    scheduled,
		"order_errors": result.OrderErrors,
		"dry_run":      req.DryRun,
	})
}

type scheduleCallRequest struct {
	PatientID     string    `json:"patient_id"`
	PatientPhone  string    `json:"patient_phone"`
	ScheduledTime time.Time `json:"scheduled_time"`
	CallType      string    `json:"call_type"`
	Priority      int       `json:"priority"`
	Prompt        string    `json:"prompt"`
}

// ScheduleCall creates a single follow-up call, typically used by operators
// for manual or test calls outside the discharge-order flow.
func (h Handlers) ScheduleCall(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}

	var req scheduleCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	priority := req.Priority
	if priority == 0 {
		priority = calls.PriorityRoutine
	}

	item := calls.NewCallScheduleItem(clinicID, req.PatientID, req.PatientPhone,
		req.ScheduledTime, calls.ParseCallType(req.CallType), priority, req.Prompt)
	item.Metadata["call_source"] = "operator"

	created, err := h.Scheduler.ScheduleCall(c.Request.Context(), item)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	h.auditOperator(c, clinicID, "scheduled manual call", item.ID)
	c.JSON(http.StatusCreated, gin.H{"item": item, "created": created})
}

// ListPendingCalls returns pending calls ordered by (scheduled_time, priority).
func (h Handlers) ListPendingCalls(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}

	limit := intQuery(c, "limit", 100)
	items, err := h.Scheduler.GetPendingCalls(c.Request.Context(), limit)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": filterByClinic(items, clinicID)})
}

// GetCall returns a single schedule item scoped to the caller's clinic.
func (h Handlers) GetCall(c *gin.Context) {
	item, ok := h.loadClinicCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, item)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// UpdateCallStatus applies a status transition. Illegal edges are rejected.
func (h Handlers) UpdateCallStatus(c *gin.Context) {
	item, ok := h.loadClinicCall(c)
	if !ok {
		return
	}

	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if err := h.Scheduler.UpdateCallStatus(c.Request.Context(), item.ID, calls.CallStatus(req.Status), req.Note); err != nil {
		abortWithServiceError(c, err)
		return
	}
	h.auditOperator(c, item.ClinicID, "set call status to "+req.Status, item.ID)
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// ExecuteCallNow pulls a pending call forward so the next worker poll dials
// it immediately.
func (h Handlers) ExecuteCallNow(c *gin.Context) {
	item, ok := h.loadClinicCall(c)
	if !ok {
		return
	}

	if err := h.Scheduler.ExecuteNow(c.Request.Context(), item.ID); err != nil {
		abortWithServiceError(c, err)
		return
	}
	h.auditOperator(c, item.ClinicID, "expedited call for immediate execution", item.ID)
	c.JSON(http.StatusOK, gin.H{"status": string(calls.StatusPending), "expedited": true})
}

type cancelRequest struct {
	Note string `json:"note,omitempty"`
}

// CancelCall cancels a pending call. In-flight calls cannot be cancelled.
func (h Handlers) CancelCall(c *gin.Context) {
	item, ok := h.loadClinicCall(c)
	if !ok {
		return
	}

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.Scheduler.Cancel(c.Request.Context(), item.ID, req.Note); err != nil {
		abortWithServiceError(c, err)
		return
	}
	h.auditOperator(c, item.ClinicID, "cancelled call", item.ID)
	c.JSON(http.StatusOK, gin.H{"status": string(calls.StatusCancelled)})
}

// PatientCallHistory returns a patient's schedule items plus their attempt
// records.
func (h Handlers) PatientCallHistory(c *gin.Context) {
	if h.Scheduler == nil || h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}
	patientID := c.Param("patient_id")
	if patientID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "patient_id required"})
		return
	}

	items, err := h.Scheduler.GetPatientCalls(c.Request.Context(), patientID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	attempts, err := h.Records.PatientHistory(c.Request.Context(), clinicID, patientID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    filterByClinic(items, clinicID),
		"attempts": attempts,
	})
}

// --- Reporting ---

// QueueSnapshot reports live queue state across the schedule store.
func (h Handlers) QueueSnapshot(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	snap, err := h.Reporting.Queue(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// AttemptsSummary aggregates call attempt outcomes for the caller's clinic.
func (h Handlers) AttemptsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}
	rng, ok := timeRangeQuery(c)
	if !ok {
		return
	}

	out, err := h.Reporting.AttemptsSummary(c.Request.Context(), reporting.AttemptsSummaryRequest{
		ClinicID:  clinicID,
		Range:     rng,
		PatientID: c.Query("patient_id"),
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Reachability reports connection rates for the caller's clinic.
func (h Handlers) Reachability(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return
	}
	rng, ok := timeRangeQuery(c)
	if !ok {
		return
	}

	out, err := h.Reporting.Reachability(c.Request.Context(), reporting.ReachabilityRequest{
		ClinicID: clinicID,
		Range:    rng,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- helpers ---

// loadClinicCall fetches the :call_id item and enforces clinic scoping.
// Cross-clinic ids report not-found rather than forbidden to avoid leaking
// call existence.
func (h Handlers) loadClinicCall(c *gin.Context) (calls.CallScheduleItem, bool) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return calls.CallScheduleItem{}, false
	}
	clinicID, ok := clinicFromContext(c)
	if !ok {
		return calls.CallScheduleItem{}, false
	}
	id := c.Param("call_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return calls.CallScheduleItem{}, false
	}
	item, err := h.Scheduler.GetCall(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return calls.CallScheduleItem{}, false
	}
	role, _ := auth.Role(c.Request.Context())
	if item.ClinicID != clinicID && !rbac.IsSuperAdmin(role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.CallScheduleItem{}, false
	}
	return item, true
}

func (h Handlers) auditOperator(c *gin.Context, clinicID, message, callID string) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogOperatorAction(c.Request.Context(), clinicID, userID, role, c.ClientIP(), message, callID, "")
}

func clinicFromContext(c *gin.Context) (string, bool) {
	clinicID, err := auth.ClinicID(c.Request.Context())
	if err != nil || clinicID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "clinic_id required"})
		return "", false
	}
	return clinicID, true
}

func filterByClinic(items []calls.CallScheduleItem, clinicID string) []calls.CallScheduleItem {
	out := make([]calls.CallScheduleItem, 0, len(items))
	for _, it := range items {
		if it.ClinicID == clinicID {
			out = append(out, it)
		}
	}
	return out
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// timeRangeQuery parses from/to RFC3339 query params, defaulting to the last
// seven days when omitted.
func timeRangeQuery(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.AddDate(0, 0, -7), To: now}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		rng.To = t
	}
	return rng, true
}

// abortWithServiceError maps service sentinel errors onto HTTP statuses.
func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, records.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrValidation), errors.Is(err, records.ErrInvalidRecord), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call store unavailable"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Convenience middleware bundle for clinic-scoped operator routes.

func RequireClinicAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireClinic(), rbac.RequireAnyRole(roles...)}
}
