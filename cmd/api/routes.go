package main

import (
	"postop-platform/internal/auth"
	"postop-platform/internal/httpapi"
	"postop-platform/internal/rbac"
	"postop-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, resultHandler telephony.CallResultHandler, sessionHandler telephony.DischargeSessionHandler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Voice backend webhooks (shared-secret protected, not JWT).
	r.POST("/webhooks/voice/result", resultHandler.HandleCallResult)
	r.POST("/webhooks/voice/session", sessionHandler.HandleDischargeSession)

	// AUTH routes (token issuance) sit outside the access-token middleware.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			cid, _ := auth.ClinicID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "clinic_id": cid, "role": role})
		})

		// CALLS routes: schedule, inspect, and manage follow-up calls.
		clinicStaff := httpapi.RequireClinicAndAnyRole(rbac.RoleAdmin, rbac.RoleNurse, rbac.RoleOperator)

		callsGroup := v1.Group("/calls")
		callsGroup.Use(clinicStaff...)
		{
			callsGroup.POST("", h.ScheduleCall)
			callsGroup.GET("/pending", h.ListPendingCalls)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.POST("/:call_id/status", h.UpdateCallStatus)
			callsGroup.POST("/:call_id/execute", h.ExecuteCallNow)
			callsGroup.POST("/:call_id/cancel", h.CancelCall)
		}

		// PATIENTS routes: discharge-order driven schedule generation and history.
		patients := v1.Group("/patients")
		patients.Use(clinicStaff...)
		{
			patients.POST("/calls/generate", h.GeneratePatientCalls)
			patients.GET("/:patient_id/calls", h.PatientCallHistory)
		}

		// REPORTS routes: clinic metrics. Operators do not need these.
		reports := v1.Group("/reports")
		reports.Use(httpapi.RequireClinicAndAnyRole(rbac.RoleAdmin, rbac.RoleNurse)...)
		{
			reports.GET("/attempts", h.AttemptsSummary)
			reports.GET("/reachability", h.Reachability)
		}

		// ADMIN routes.
		// Hidden voice_agent role is intentionally NOT included.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireClinicAndAnyRole(rbac.RoleAdmin)...)
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			admin.GET("/queue", h.QueueSnapshot)
		}
	}
}
