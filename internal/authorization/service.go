package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

const ActorSystem = "system"

// Service decides whether an actor may perform an action on an object within
// an organization. Actors are "system" or "user:<snowflake id>".
type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}
