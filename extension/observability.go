package extension

import (
	"sync"
)

// InvokeObservation captures one adapter invocation outcome.
type InvokeObservation struct {
	ExtensionID string
	Tool        string
	Kind        Kind
	DurationMS  int64
	Success     bool
	TimedOut    bool
	ErrorCode   string
}

// LifecycleObservation captures one extension state transition.
type LifecycleObservation struct {
	ExtensionID string
	Kind        Kind
	From        State
	To          State
	ErrorCode   string
}

// HealthObservation captures one health-sweep probe outcome.
type HealthObservation struct {
	ExtensionID  string
	Kind         Kind
	Healthy      bool
	FailureCount int
	DurationMS   int64
	ErrorCode    string
}

// Observer receives extension-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
	ObserveLifecycle(observation LifecycleObservation)
	ObserveHealth(observation HealthObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation)       {}
func (noopObserver) ObserveLifecycle(LifecycleObservation) {}
func (noopObserver) ObserveHealth(HealthObservation)       {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide extension observability observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

// ObserveInvoke reports one invocation outcome to the active observer. The
// invocation path lives outside this package, so the hook is exported.
func ObserveInvoke(observation InvokeObservation) {
	emitInvokeObservation(observation)
}

func emitInvokeObservation(observation InvokeObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveInvoke(observation)
}

func emitLifecycleObservation(observation LifecycleObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveLifecycle(observation)
}

func emitHealthObservation(observation HealthObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveHealth(observation)
}
