// Package adgin exposes the controller over HTTP for UI clients: entitlement
// queries, UI lifecycle events and the rewarded flow. Screen rendering stays
// entirely on the client; this surface only carries events and state.
package adgin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/adkit"
	"github.com/open-rails/adkit/entitlement"
	"github.com/open-rails/adkit/inventory"
)

// Config configures the adapter.
type Config struct {
	// AdminSecret signs the Bearer tokens accepted on grant/plan routes.
	AdminSecret []byte
}

// Mount registers all routes on r.
func Mount(r gin.IRouter, kit *adkit.Kit, cfg Config) {
	r.GET("/entitlement", HandleEntitlementGET(kit))
	r.GET("/ads/readiness", HandleReadinessGET(kit))
	r.POST("/ads/rewarded", HandleRewardedPOST(kit))

	ev := r.Group("/events")
	ev.POST("/navigate", HandleNavigatePOST(kit))
	ev.POST("/foreground", HandleForegroundPOST(kit))
	ev.POST("/background", HandleBackgroundPOST(kit))
	ev.POST("/screen-exit", HandleScreenExitPOST(kit))

	admin := r.Group("/entitlement", AdminRequired(cfg.AdminSecret))
	admin.POST("/grant", HandleGrantPOST(kit))
	admin.POST("/plan", HandlePlanPOST(kit))
}

func HandleEntitlementGET(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec := kit.Entitlements.Current()
		c.JSON(http.StatusOK, gin.H{"status": rec.Status, "expires_at": rec.ExpiresAt})
	}
}

func HandleReadinessGET(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make(map[string]string, len(inventory.Slots))
		for _, slot := range inventory.Slots {
			out[string(slot)] = string(kit.Inventory.Readiness(slot))
		}
		c.JSON(http.StatusOK, out)
	}
}

func HandleRewardedPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := kit.RequestRewardedPresentation(); err != nil {
			if errors.Is(err, adkit.ErrAdNotReady) {
				c.JSON(http.StatusConflict, gin.H{"error": "not_ready"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rewarded_failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	}
}

func HandleNavigatePOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"triggered": kit.Cadence.OnNavigate()})
	}
}

func HandleForegroundPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		kit.Cadence.OnAppForeground(time.Now())
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func HandleBackgroundPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		kit.Cadence.OnAppBackground(time.Now())
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func HandleScreenExitPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Screen string `json:"screen" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_screen"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"triggered": kit.Cadence.OnScreenExit(req.Screen)})
	}
}

func HandleGrantPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Hours float64 `json:"hours" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_hours"})
			return
		}
		d := time.Duration(req.Hours * float64(time.Hour))
		if err := kit.Entitlements.GrantTemporary(c.Request.Context(), d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func HandlePlanPOST(kit *adkit.Kit) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_status"})
			return
		}
		if err := kit.Entitlements.SetPlan(c.Request.Context(), entitlement.Status(req.Status)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
