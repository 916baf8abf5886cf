package hub

import (
	"fmt"
	"strings"

	"github.com/appetiteclub/kds/pkg/enums/role"
	"github.com/appetiteclub/kds/pkg/routing"
)

// RoleAuthorizer lets staff follow prep stations only. Expo and admin
// displays may follow any station, or all of them.
type RoleAuthorizer struct {
	router *routing.Router
}

func NewRoleAuthorizer(router *routing.Router) *RoleAuthorizer {
	if router == nil {
		router = routing.NewRouter(nil)
	}
	return &RoleAuthorizer{router: router}
}

func (a *RoleAuthorizer) Authorize(identity Identity, stations []string, all bool) error {
	r := role.ByName(strings.ToLower(strings.TrimSpace(identity.Role)))
	if r == nil {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, identity.Role)
	}

	table := a.router.Current()
	for _, st := range stations {
		if _, ok := table.Station(st); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStation, st)
		}
	}

	if *r == role.Roles.Expo || *r == role.Roles.Admin {
		return nil
	}

	if all {
		return fmt.Errorf("%w: role %s cannot follow all stations", ErrForbidden, r.Code())
	}
	for _, st := range stations {
		if st == table.ExpoStation() {
			return fmt.Errorf("%w: role %s cannot follow %s", ErrForbidden, r.Code(), st)
		}
	}
	return nil
}
