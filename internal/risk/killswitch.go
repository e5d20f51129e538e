package risk

import (
	"sync/atomic"

	"github.com/yanun0323/logs"
)

// KillSwitch is the process-wide trading stop. Tripped means every new
// intent is rejected until an admin reset.
type KillSwitch struct {
	on     atomic.Bool
	reason atomic.Pointer[string]
}

// Engaged reports whether trading is stopped.
func (k *KillSwitch) Engaged() bool { return k.on.Load() }

// Trip stops trading and records why. Idempotent.
func (k *KillSwitch) Trip(reason string) {
	k.reason.Store(&reason)
	if !k.on.Swap(true) {
		logs.Errorf("kill switch tripped: %s", reason)
	}
}

// Reset re-enables trading. Admin path only.
func (k *KillSwitch) Reset() {
	if k.on.Swap(false) {
		logs.Info("kill switch reset")
	}
}

// Reason returns the recorded trip reason, empty when never tripped.
func (k *KillSwitch) Reason() string {
	if p := k.reason.Load(); p != nil {
		return *p
	}
	return ""
}
