package mongoset

// Events defines an event logger that allows us to record events for a
// specific action that occurred, allowing users to plug their own internal
// logging systems.
type Events interface {
	Log(context interface{}, name string, message string, data ...interface{})
	Error(context interface{}, name string, err error, message string, data ...interface{})
}

//==============================================================================

// NopEvents discards all reports. It backs every component whose
// configuration carries no logger.
var NopEvents Events = nopEvents{}

type nopEvents struct{}

// Log discards the standard log report.
func (nopEvents) Log(context interface{}, name string, message string, data ...interface{}) {}

// Error discards the error report.
func (nopEvents) Error(context interface{}, name string, err error, message string, data ...interface{}) {
}
