package cloud

import (
	"context"
	"fmt"
)

// FetchTagsFunc re-reads an instance's normalized tag set. Implementations
// map the provider's channel (droplet tags, guest attributes, instance tags)
// into a flat key/value view.
type FetchTagsFunc func(ctx context.Context) (map[string]string, error)

// DiscoverBootstrapSecrets polls an instance's tag set until the guest-side
// install script has published both the management URL and the certificate
// fingerprint. There is no push notification: the metadata is eventually
// consistent and discovery is pure polling.
//
// A provider 404 on the metadata read means "not yet", not failure — freshly
// created instances can be briefly invisible. Partial secrets never cause an
// early return. The session's cancellation flag is checked on every
// iteration, including once more after the secrets appear, so a creation the
// user already cancelled is never reported as a success; a cancelled
// discovery exits with ErrInstallCanceled, never InstallFailedError.
func DiscoverBootstrapSecrets(ctx context.Context, session *CreationSession, cfg PollConfig, fetch FetchTagsFunc) (BootstrapSecrets, error) {
	cfg = cfg.withDefaults(DefaultDiscoveryPollInterval, DefaultDiscoveryDeadline)
	deadline := timeNow().Add(cfg.Deadline)

	transient := 0
	for {
		if session != nil && session.Cancelled() {
			return BootstrapSecrets{}, ErrInstallCanceled
		}

		tags, err := fetch(ctx)
		switch {
		case err == nil:
			transient = 0
			secrets := SecretsFromTags(tags)
			if secrets.Complete() {
				if session != nil && session.Cancelled() {
					return BootstrapSecrets{}, ErrInstallCanceled
				}
				return secrets, nil
			}
		case IsNotFound(err):
			// Instance metadata not visible yet.
			transient = 0
		case IsNetwork(err):
			transient++
			if transient >= maxTransientPollErrors {
				return BootstrapSecrets{}, err
			}
		default:
			return BootstrapSecrets{}, err
		}

		if timeNow().After(deadline) {
			return BootstrapSecrets{}, fmt.Errorf("bootstrap secrets: %w after %s", ErrTimedOut, cfg.Deadline)
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return BootstrapSecrets{}, err
		}
	}
}
