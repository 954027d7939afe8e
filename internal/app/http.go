// Package app wires the HTTP ops surface: health, a read-only view of
// active grants, and the inbound message webhook that bridges the external
// messaging transport to the command dispatcher.
package app

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"vpn-access-bot/internal/command"
	"vpn-access-bot/internal/config"
	"vpn-access-bot/internal/workflow"
)

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")

	// Disable caching
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// Middleware to check if the IP is allowed.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		localhostCIDRs := []string{"127.0.0.1/8", "::1/128"}
		allowedCIDRs = append(allowedCIDRs, localhostCIDRs...)
	}

	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		parsedCIDRs = append(parsedCIDRs, network)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}

type inboundMessage struct {
	Sender string `json:"sender" binding:"required"`
	Body   string `json:"body" binding:"required"`
}

func HTTPServer(cfg *config.Config, engine *workflow.Engine, dispatcher *command.Dispatcher) *gin.Engine {
	r := gin.Default()

	if cfg.AllowedNetworks != "" {
		slog.Debug("Enabling IP access control", "allowed_networks", cfg.AllowedNetworks)
		var allowedCIDRs []string
		for _, cidr := range strings.Split(cfg.AllowedNetworks, ",") {
			if cidr := strings.TrimSpace(cidr); cidr != "" {
				allowedCIDRs = append(allowedCIDRs, cidr)
			}
		}
		r.Use(IPAccessControl(allowedCIDRs))
	}
	r.Use(securityHeaders)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/api/grants", func(c *gin.Context) {
		rows, err := engine.ListActive(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list grants", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}

		grants := make([]gin.H, 0, len(rows))
		for _, row := range rows {
			grant := gin.H{
				"id":              row.ID,
				"requester":       row.Requester,
				"targets":         row.Targets(),
				"provision_state": row.ProvisionState,
			}
			if row.IPAddr != nil {
				grant["ip"] = *row.IPAddr
			}
			grants = append(grants, grant)
		}
		c.JSON(http.StatusOK, gin.H{"grants": grants})
	})

	// Inbound bridge from the messaging transport: one chat message in,
	// the sender's reply out. Pushes to other parties go out through the
	// notifier.
	r.POST("/api/message", func(c *gin.Context) {
		var msg inboundMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sender and body are required"})
			return
		}

		reply := dispatcher.Dispatch(c.Request.Context(), msg.Sender, msg.Body)
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	})

	return r
}
