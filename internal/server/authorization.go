package server

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contractbilling/internal/authorization"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

type Actor struct {
	Type  ActorType
	OrgID snowflake.ID
	ID    string
}

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeOrgActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// authorizeSystemAction guards operational endpoints that only automation may call.
func (s *Server) authorizeSystemAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if actor.Type != ActorSystem || !allowSystemAction(object, action) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeOrgActionWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if actor.OrgID == 0 {
		return ErrUnauthorized
	}

	switch actor.Type {
	case ActorUser, ActorSystem:
		if s.authzSvc == nil {
			return ErrForbidden
		}
		return s.authzSvc.Authorize(c.Request.Context(), actor.subject(), actor.OrgID.String(), strings.TrimSpace(object), strings.TrimSpace(action))
	default:
		return ErrUnauthorized
	}
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	if c == nil {
		return Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	return actor, ok
}

func (a Actor) subject() string {
	switch a.Type {
	case ActorUser:
		return fmt.Sprintf("user:%s", a.ID)
	case ActorSystem:
		return authorization.ActorSystem
	default:
		return ""
	}
}

func allowSystemAction(object string, action string) bool {
	key := strings.ToLower(strings.TrimSpace(object)) + ":" + strings.ToLower(strings.TrimSpace(action))
	switch key {
	case authorization.ObjectApplier + ":" + authorization.ActionApplierRun:
		return true
	default:
		return false
	}
}
