package rest

import "github.com/gin-gonic/gin"

// UserIDHeader carries the caller's identity. Authentication/authorisation
// of that identity is an explicit Non-goal (spec §1); the HTTP edge trusts
// whatever identity the caller (or an upstream gateway) supplies here and
// hands it straight to the services, which still enforce assignment
// checks (e.g. human.Service.authorise) against it.
const UserIDHeader = "X-User-ID"

// GetUserID reads the caller's identity off the request, mirroring the
// teacher's context-getter shape even though there is no token to decode.
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		return "", false
	}
	return userID, true
}
