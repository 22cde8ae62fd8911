package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/contractbilling/internal/observability/context"
	"github.com/smallbiznis/contractbilling/internal/orgcontext"
)

const (
	HeaderOrg   = "X-Org-ID"
	HeaderActor = "X-Actor-ID"

	contextActorKey = "actor"
)

// Identity reads the caller identity forwarded by the gateway. The actor is
// "system" or "user:<id>"; an unparsable actor is rejected.
func (s *Server) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := parseActor(c.GetHeader(HeaderActor))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			orgID, err := snowflake.ParseString(raw)
			if err != nil || orgID == 0 {
				AbortWithError(c, newValidationError("organization_id", "invalid_organization", "invalid organization id"))
				return
			}
			actor.OrgID = orgID
			ctx = orgcontext.WithOrgID(ctx, orgID)
			ctx = obscontext.WithOrgID(ctx, orgID.String())
		}
		ctx = obscontext.WithActor(ctx, string(actor.Type), actor.ID)

		c.Set(contextActorKey, actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OrgRequired rejects requests that do not name the organization they act on.
func (s *Server) OrgRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := orgcontext.OrgIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func parseActor(raw string) (Actor, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Actor{}, ErrUnauthorized
	case raw == string(ActorSystem):
		return Actor{Type: ActorSystem, ID: string(ActorSystem)}, nil
	case strings.HasPrefix(raw, "user:"):
		userID, err := snowflake.ParseString(strings.TrimPrefix(raw, "user:"))
		if err != nil || userID == 0 {
			return Actor{}, ErrUnauthorized
		}
		return Actor{Type: ActorUser, ID: userID.String()}, nil
	default:
		return Actor{}, ErrUnauthorized
	}
}
