// Package failure 定义流水线对外暴露的失败分类（FailReason），所有组件的错误
// 最终都会被归入其中一类再交给 Listener。
package failure

import (
	"errors"
	"fmt"
)

// Kind 描述失败的类别，取值固定。
type Kind string

const (
	KindIO            Kind = "io_error"
	KindDecoding      Kind = "decoding_error"
	KindNetworkDenied Kind = "network_denied"
	KindOutOfMemory   Kind = "out_of_memory"
	KindUnknown       Kind = "unknown"
)

// Reason 携带失败类别与底层原因，实现 error 以便沿调用链透传。
type Reason struct {
	Kind  Kind
	Cause error
}

// New 用指定类别包装 cause；cause 已经是 Reason 时保留原类别。
func New(kind Kind, cause error) *Reason {
	var existing *Reason
	if errors.As(cause, &existing) {
		return existing
	}
	return &Reason{Kind: kind, Cause: cause}
}

// IO 是 New(KindIO, ...) 的简写，fetch/cache 层使用最多。
func IO(cause error) *Reason {
	return New(KindIO, cause)
}

// Decoding 是 New(KindDecoding, ...) 的简写。
func Decoding(cause error) *Reason {
	return New(KindDecoding, cause)
}

func (r *Reason) Error() string {
	if r.Cause == nil {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %v", r.Kind, r.Cause)
}

func (r *Reason) Unwrap() error {
	return r.Cause
}

// Retryable reports whether the same bytes may succeed with a more aggressive
// sample size. A cause implementing Retryable() bool has the final say.
func (r *Reason) Retryable() bool {
	if r == nil || r.Kind != KindOutOfMemory {
		return false
	}
	var rt interface{ Retryable() bool }
	if errors.As(r.Cause, &rt) {
		return rt.Retryable()
	}
	return true
}

// Classify 将任意 error 归类；未被包装过的错误视为 unknown。
func Classify(err error) *Reason {
	if err == nil {
		return nil
	}
	var reason *Reason
	if errors.As(err, &reason) {
		return reason
	}
	return &Reason{Kind: KindUnknown, Cause: err}
}

// KindOf 返回 err 对应的类别，nil 返回空串。
func KindOf(err error) Kind {
	if reason := Classify(err); reason != nil {
		return reason.Kind
	}
	return ""
}
