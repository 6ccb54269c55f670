package sequential

import "go.uber.org/zap"

// FuncSubscriber adapts two plain functions into a Subscriber. Either
// field may be nil, in which case that outcome is silently ignored.
type FuncSubscriber struct {
	OnSuccessFunc func()
	OnFailureFunc func(err error)
}

// NewFuncSubscriber builds a Subscriber from an onSuccess/onFailure pair,
// the common case where a caller has no state to track beyond "did it
// work".
func NewFuncSubscriber(onSuccess func(), onFailure func(error)) Subscriber {
	return &FuncSubscriber{OnSuccessFunc: onSuccess, OnFailureFunc: onFailure}
}

// OnSuccess implements Subscriber.
func (f *FuncSubscriber) OnSuccess() {
	if f.OnSuccessFunc != nil {
		f.OnSuccessFunc()
	}
}

// OnFailure implements Subscriber.
func (f *FuncSubscriber) OnFailure(err error) {
	if f.OnFailureFunc != nil {
		f.OnFailureFunc(err)
	}
}

// LoggingSubscriber wraps another Subscriber and logs every outcome before
// forwarding it, useful when a caller wants observability without writing
// its own Subscriber.
type LoggingSubscriber struct {
	Key   string
	Inner Subscriber
	Log   *zap.Logger
}

// OnSuccess implements Subscriber.
func (l *LoggingSubscriber) OnSuccess() {
	if l.Log != nil {
		l.Log.Debug("sequential input processed", zap.String("key", l.Key))
	}
	if l.Inner != nil {
		l.Inner.OnSuccess()
	}
}

// OnFailure implements Subscriber.
func (l *LoggingSubscriber) OnFailure(err error) {
	if l.Log != nil {
		l.Log.Warn("sequential input failed", zap.String("key", l.Key), zap.Error(err))
	}
	if l.Inner != nil {
		l.Inner.OnFailure(err)
	}
}
