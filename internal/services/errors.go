package services

import (
	"errors"

	"github.com/gatherhq/gather/backend/pkg/response"
)

// Domain errors surfaced by the membership ledger and capacity guard.
// Conflict errors describe state that refused the transition; not-found
// covers absent rows and cross-group manipulation alike.
var (
	ErrGroupNotFound      = response.NewNotFound("group not found")
	ErrMembershipNotFound = response.NewNotFound("membership not found")
	ErrUserNotFound       = response.NewNotFound("user not found")

	ErrAlreadyMember     = response.NewConflict("user already has a pending or active membership")
	ErrGroupFull         = response.NewConflict("group is full")
	ErrNotAMember        = response.NewConflict("user is not an active member of this group")
	ErrLeaderCannotLeave = response.NewConflict("leader cannot leave their own group")
	ErrGroupNotAccepting = response.NewConflict("group is not accepting members")

	ErrNotGroupModerator = response.NewForbidden("requires leader or co-leader role")
	ErrNotGroupLeader    = response.NewForbidden("requires leader role")
)

// ErrNotResolvable is returned by the geocoder when the upstream service
// has no coordinates for an address. It is never surfaced to API clients;
// callers degrade to a group without coordinates.
var ErrNotResolvable = errors.New("address not resolvable")
