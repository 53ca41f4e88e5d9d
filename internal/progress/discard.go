package progress

type discard struct{ level Level }

// Discard returns a Status that drops everything but still reports level.
func Discard(level Level) Status { return discard{level: level} }

func (d discard) Level() Level { return d.level }
func (discard) SetMessage(string) {}
func (discard) SetProgress(float64) {}
func (discard) Log(string) {}
func (discard) ReportWarning(string) {}
func (discard) ReportError(string, error) {}
func (discard) IsCanceled() bool { return false }
func (discard) Cancel() {}
