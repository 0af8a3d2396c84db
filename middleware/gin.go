package middleware

import (
	"net/http"

	goGate "github.com/MrEthical07/goGate"
	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the *goGate.Principal.
const PrincipalKey = "goGate.principal"

// GinGate is Guard for gin routers. On success the principal is stored both
// in the request context and under PrincipalKey.
func GinGate(v Validator, cfg goGate.GateConfig, opts ...Option) gin.HandlerFunc {
	g := newGate(v, cfg, opts...)
	return func(c *gin.Context) {
		token, _ := bearerToken(c.GetHeader("Authorization"))
		d := g.decide(c.Request.Context(), c.Request.URL.Path, token)
		if !d.pass {
			g.logRejection(c.Request, d)
			c.AbortWithStatusJSON(d.status, g.rejectionBody(d))
			return
		}
		if d.principal != nil {
			c.Request = c.Request.WithContext(goGate.WithPrincipal(c.Request.Context(), d.principal))
			c.Set(PrincipalKey, d.principal)
		}
		c.Next()
	}
}

// GinPrincipal returns the principal set by GinGate.
func GinPrincipal(c *gin.Context) (*goGate.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*goGate.Principal)
	return p, ok && p != nil
}

// GinRequireAuthority is RequireAuthority for gin routers.
func GinRequireAuthority(authority string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GinPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !p.HasAuthority(authority) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
