package workflow

// ProgressListener is notified while a workflow runs. Implementations must
// not block for long; they are called inline between steps.
type ProgressListener interface {
	OnStepStarted(step, total int, description string)
	OnStepCompleted(step int, description string)
	OnDetail(msg string)
	OnDebug(msg string)
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) OnStepStarted(int, int, string) {}
func (NopListener) OnStepCompleted(int, string)    {}
func (NopListener) OnDetail(string)                {}
func (NopListener) OnDebug(string)                 {}

// MultiListener forwards every notification to each listener in order.
type MultiListener []ProgressListener

// Listeners combines listeners, dropping nil ones. It returns NopListener
// when nothing is left.
func Listeners(ls ...ProgressListener) ProgressListener {
	var out MultiListener
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NopListener{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func (m MultiListener) OnStepStarted(step, total int, description string) {
	for _, l := range m {
		l.OnStepStarted(step, total, description)
	}
}

func (m MultiListener) OnStepCompleted(step int, description string) {
	for _, l := range m {
		l.OnStepCompleted(step, description)
	}
}

func (m MultiListener) OnDetail(msg string) {
	for _, l := range m {
		l.OnDetail(msg)
	}
}

func (m MultiListener) OnDebug(msg string) {
	for _, l := range m {
		l.OnDebug(msg)
	}
}
