package request

import (
	"context"
	"net/url"
	"time"

	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/meridianid/meridian-go/pkg/identerr"
)

// slowDownBackoff is added to the polling interval each time the provider
// answers slow_down.
const slowDownBackoff = 5 * time.Second

// deviceGrant polls the token endpoint for completion of a device flow.
type deviceGrant struct {
	deviceCode string
}

func (deviceGrant) Name() string { return "device_code" }

func (deviceGrant) UsesCache() bool { return false }

func (deviceGrant) Validate(p Parameters) error { return nil }

func (g deviceGrant) Body(p Parameters) (url.Values, error) {
	body := url.Values{}
	body.Set(oauth.ParamGrantType, oauth.GrantDeviceCode)
	body.Set(oauth.ParamDeviceCode, g.deviceCode)
	return body, nil
}

// RunDeviceCode drives a device authorization flow: it obtains the user
// code, hands it to prompt for display, then polls the token endpoint at
// the server-directed cadence until the user completes sign-in, the code
// expires, or ctx is canceled.
func (p *Pipeline) RunDeviceCode(ctx context.Context, params Parameters, prompt func(oauth.DeviceCodeResult)) (Result, error) {
	run := p.newRun(ctx, params, "device_code")

	if len(params.Scopes) == 0 {
		return run.fail(identerr.NewValidation("scopes", "at least one scope is required for device code"))
	}
	if prompt == nil {
		return run.fail(identerr.NewValidation("prompt", "a user code callback is required"))
	}

	endpoints, err := run.resolveAuthority(ctx)
	if err != nil {
		return run.fail(err)
	}
	if endpoints.DeviceCodeEndpoint == "" {
		return run.fail(identerr.NewValidation("authority", "does not advertise a device authorization endpoint"))
	}

	initBody := url.Values{}
	initBody.Set(oauth.ParamClientID, params.ClientID)
	initBody.Set(oauth.ParamScope, params.scopeParam())

	device, err := p.deps.Client.DeviceCode(ctx, endpoints.DeviceCodeEndpoint, params.CorrelationID, initBody)
	if err != nil {
		return run.fail(err)
	}

	prompt(device)
	run.advance(CacheChecked)

	session := p.session(ctx, params, deviceGrant{})
	deadline := p.now().Add(time.Duration(device.ExpiresIn) * time.Second)
	interval := device.PollInterval()

	for {
		result, err := run.sendAndCache(ctx, session, endpoints, mustBody(deviceGrant{device.DeviceCode}, params))
		if err == nil {
			return result, nil
		}

		slowDown, pending := oauth.AuthorizationPending(err)
		if !pending {
			return Result{}, err
		}
		if slowDown {
			interval += slowDownBackoff
		}

		if !p.now().Add(interval).Before(deadline) {
			return run.fail(&identerr.ProtocolError{
				OAuthError:    "expired_token",
				Description:   "the device code expired before the user completed sign-in",
				CorrelationID: params.CorrelationID,
			})
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
