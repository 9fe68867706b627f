package threemaGW

import (
	"context"
	"errors"

	"github.com/MrEthical07/threemaGW/permission"
	"github.com/MrEthical07/threemaGW/tfa"
)

var errNoAccountProvider = errors.New("no account provider configured")

// declineActions gates fast-mode decline side effects by the user's
// permissions and forwards them to the host.
type declineActions struct {
	accounts AccountProvider
	registry *permission.Registry
	// nil without a PermissionProvider; then only the TFA block applies.
	cache *permission.Cache
}

func declinePermission(action tfa.DeclineAction) string {
	switch action {
	case tfa.DeclineBlockTFA:
		return PermDeclineBlockTFA
	case tfa.DeclineBanUser:
		return PermDeclineBanUser
	case tfa.DeclineBanIP:
		return PermDeclineBanIP
	case tfa.DeclineNotify:
		return PermDeclineNotify
	}
	return ""
}

func (d *declineActions) Permitted(ctx context.Context, userID string, action tfa.DeclineAction) (bool, error) {
	if action != tfa.DeclineBlockTFA && d.accounts == nil {
		return false, nil
	}
	if d.cache == nil {
		return action == tfa.DeclineBlockTFA, nil
	}
	mask, err := d.cache.Mask(ctx, userID)
	if err != nil {
		return false, err
	}
	return d.registry.Has(mask, declinePermission(action)), nil
}

func (d *declineActions) BanUser(ctx context.Context, userID, reason string) error {
	if d.accounts == nil {
		return errNoAccountProvider
	}
	return d.accounts.BanUser(ctx, userID, reason)
}

func (d *declineActions) BanIP(ctx context.Context, _ string, ip, reason string) error {
	if d.accounts == nil {
		return errNoAccountProvider
	}
	return d.accounts.BanIP(ctx, ip, reason)
}

func (d *declineActions) NotifyUser(ctx context.Context, userID, message string) error {
	if d.accounts == nil {
		return errNoAccountProvider
	}
	return d.accounts.NotifyUser(ctx, userID, message)
}
