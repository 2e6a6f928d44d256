package handlers

import (
	"errors"
	"fmt"

	"github.com/campushub/eqserver/internal/store"
	"github.com/campushub/eqserver/pkg/wire"
)

// handleLogin authenticates an operator against the users table and
// binds the connection under the last-wins policy (§4.5.1). The role
// carried in the payload is advisory only; the authoritative role always
// comes from the users table.
func handleLogin(d *Deps, connID string, msg wire.Message) error {
	fields := wire.SplitRest(msg.Rest, 2)
	userID := fields[0]

	user, err := d.Store.GetUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reply(d, connID, wire.ClientTypeOperator, wire.KindLoginResponse, "", string(wire.Fail), "unknown_user")
		}
		return fmt.Errorf("login: get user: %w", err)
	}

	evicted, err := d.Reg.BindOperator(connID, user.ID, wire.Role(user.Role))
	if err != nil {
		return fmt.Errorf("login: bind operator: %w", err)
	}
	if evicted != nil {
		_ = evicted()
	}

	return reply(d, connID, wire.ClientTypeOperator, wire.KindLoginResponse, "", string(wire.Success), user.Role)
}
