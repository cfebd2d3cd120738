//go:build !linux

package watcher

type noopWatcher struct{}

func newWatcher() DeviceWatcher { return noopWatcher{} }

func (noopWatcher) Start() (<-chan struct{}, error) { return nil, ErrUnsupported }
func (noopWatcher) Stop()                           {}
