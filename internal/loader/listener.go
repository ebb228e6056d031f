package loader

import (
	"sync"

	"github.com/any-hub/image-hub/internal/failure"
)

// Listener 接收一次加载的进度：先 Started，然后恰好一次 Completed/Failed/Cancelled。
type Listener interface {
	Started(locator string)
	Completed(locator string, img *Image)
	Failed(locator string, reason *failure.Reason)
	Cancelled(locator string)
}

// ListenerFuncs 以函数字段实现 Listener，未设置的回调被忽略。
type ListenerFuncs struct {
	OnStarted   func(locator string)
	OnCompleted func(locator string, img *Image)
	OnFailed    func(locator string, reason *failure.Reason)
	OnCancelled func(locator string)
}

func (f ListenerFuncs) Started(locator string) {
	if f.OnStarted != nil {
		f.OnStarted(locator)
	}
}

func (f ListenerFuncs) Completed(locator string, img *Image) {
	if f.OnCompleted != nil {
		f.OnCompleted(locator, img)
	}
}

func (f ListenerFuncs) Failed(locator string, reason *failure.Reason) {
	if f.OnFailed != nil {
		f.OnFailed(locator, reason)
	}
}

func (f ListenerFuncs) Cancelled(locator string) {
	if f.OnCancelled != nil {
		f.OnCancelled(locator)
	}
}

// notifier 保证 Started 与终止事件各最多触发一次。
type notifier struct {
	locator  string
	listener Listener
	start    sync.Once
	terminal sync.Once
}

func newNotifier(locator string, listener Listener) *notifier {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &notifier{locator: locator, listener: listener}
}

func (n *notifier) started() {
	n.start.Do(func() { n.listener.Started(n.locator) })
}

func (n *notifier) completed(img *Image) {
	n.terminal.Do(func() { n.listener.Completed(n.locator, img) })
}

func (n *notifier) failed(reason *failure.Reason) {
	n.terminal.Do(func() { n.listener.Failed(n.locator, reason) })
}

func (n *notifier) cancelled() {
	n.terminal.Do(func() { n.listener.Cancelled(n.locator) })
}
