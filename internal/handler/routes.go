package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

// Authenticator は管理者の資格情報を確認します
type Authenticator interface {
	Authenticate(username, password string) bool
}

// SetupRoutes はAPIのルーティングを登録します
// 発行と管理の操作には管理者認証が必要で、検証は誰でも呼び出せます
func SetupRoutes(r *gin.Engine, svc TicketService, gate Authenticator) {
	h := NewTicketHandler(svc)

	r.GET("/healthcheck", HealthCheck)

	v1 := r.Group("/v1")
	{
		v1.POST("/validate", h.Validate)

		admin := v1.Group("/reservations", AdminAuth(gate))
		admin.POST("", h.CreateReservation)
		admin.GET("", h.ListReservations)
		admin.GET("/:id", h.GetReservation)
		admin.GET("/:id/payload", h.GetPayload)
		admin.POST("/:id/cancel", h.CancelReservation)
	}
}

// AdminAuth はBasic認証で管理者を確認するミドルウェアです
// ユーザー名とパスワードのどちらが誤っているかは返しません
func AdminAuth(gate Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok || !gate.Authenticate(username, password) {
			c.Header("WWW-Authenticate", `Basic realm="sbcntr-ticket"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  model.Kind(model.ErrAuthFailure),
				"reason": model.ErrAuthFailure.Error(),
			})
			return
		}
		c.Next()
	}
}
