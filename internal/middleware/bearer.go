package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/getrec/recorder/internal/auth"
	"github.com/getrec/recorder/pkg/response"
)

const (
	// ContextPlayerID is the key for the authenticated player id in gin context.
	ContextPlayerID = "player_id"
	// ContextAccountID is the key for the account a token is scoped to, if any.
	ContextAccountID = "token_account_id"
)

// Identifier resolves a bearer token. *auth.JWTService implements it.
type Identifier interface {
	Identify(token string) (auth.Identity, error)
}

// Bearer requires an `Authorization: Bearer <token>` header and stores the
// resolved player in the context. Websocket upgrades, which cannot set
// headers from a browser, may pass the token as the `token` query parameter.
func Bearer(ids Identifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		id, err := ids.Identify(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextPlayerID, id.PlayerID)
		c.Set(ContextAccountID, id.AccountID)
		c.Next()
	}
}

// RequireAccount rejects requests whose token is scoped to an account other
// than the one named by the :account_id path parameter.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !AccountAllowed(c, c.Param("account_id")) {
			response.Forbidden(c, "token not valid for this account")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AccountAllowed reports whether the request's token may act on accountID.
func AccountAllowed(c *gin.Context, accountID string) bool {
	scoped := c.GetString(ContextAccountID)
	return scoped == "" || scoped == accountID
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if c.IsWebsocket() {
			token := c.Query("token")
			return token, token != ""
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
