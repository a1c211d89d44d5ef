// Package api exposes the broker's status surface over HTTP: a health
// probe, prometheus metrics, and token-gated activity stats. It never
// touches transfer payloads.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/nickbublik/pingpong/internal/broker"
)

const tokenTTL = time.Hour

// StatsSource supplies the activity snapshot served by /api/stats.
type StatsSource interface {
	Stats() broker.Stats
}

// Service wires the status endpoints. adminSecretHash is a bcrypt hash of
// the shared admin secret; when empty the token and stats endpoints are
// not mounted.
type Service struct {
	stats           StatsSource
	adminSecretHash []byte
	jwtSecret       []byte
	registry        *prometheus.Registry
	log             *logrus.Entry
}

func NewService(stats StatsSource, adminSecretHash, jwtSecret []byte, registry *prometheus.Registry) *Service {
	return &Service{
		stats:           stats,
		adminSecretHash: adminSecretHash,
		jwtSecret:       jwtSecret,
		registry:        registry,
		log:             logrus.WithField("component", "api"),
	}
}

// Router builds the gin handler.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pingpong-broker",
		})
	})

	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	if len(s.adminSecretHash) > 0 {
		r.POST("/api/auth/token", s.issueToken)
		protected := r.Group("/api")
		protected.Use(s.auth())
		protected.GET("/stats", s.getStats)
	}

	return r
}

func (s *Service) issueToken(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret required"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(s.adminSecretHash, []byte(req.Secret)); err != nil {
		s.log.Warn("token request with wrong secret")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      signed,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

func (s *Service) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			c.Abort()
			return
		}
		token, err := jwt.ParseWithClaims(parts[1], &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Service) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Stats())
}
