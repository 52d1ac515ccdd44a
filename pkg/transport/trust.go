package transport

import (
	"strings"
	goSync "sync"
)

// TrustPolicy decides whether to trust the key presented by the remote host.
// Its Verify method is meant to be used as Endpoint.VerifyHostKey.
type TrustPolicy struct {
	// Expected is the fingerprint cached from a previous run.
	Expected string

	// Capture trusts whatever key is presented. It's used the first time
	// deploy connects to a host, or after the host key was rotated.
	Capture bool

	lock     goSync.Mutex
	observed string
}

// Verify checks `fingerprint` against the policy.
func (policy *TrustPolicy) Verify(fingerprint string) error {
	policy.lock.Lock()
	defer policy.lock.Unlock()

	policy.observed = fingerprint
	switch {
	case policy.Capture:
		return nil
	case policy.Expected == "":
		return UntrustedHostError{Fingerprint: fingerprint}
	case !sameFingerprint(policy.Expected, fingerprint):
		return HostKeyMismatchError{Expected: policy.Expected, Actual: fingerprint}
	}
	return nil
}

// Observed returns the last fingerprint passed to Verify.
func (policy *TrustPolicy) Observed() string {
	policy.lock.Lock()
	defer policy.lock.Unlock()

	return policy.observed
}

func sameFingerprint(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
