package logger

import "time"

// StageLogger logs the start, completion, and timing of one pipeline stage.
type StageLogger struct {
	logger    Logger
	stage     string
	fields    Fields
	startTime time.Time
}

// NewStageLogger creates a stage logger and logs the start of the stage.
func NewStageLogger(stage string, logger Logger) *StageLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	sl := &StageLogger{
		logger:    logger.WithComponent(stage),
		stage:     stage,
		fields:    make(Fields),
		startTime: time.Now(),
	}
	sl.logger.WithField("stage", stage).Debug("Stage started")
	return sl
}

// WithField attaches a field reported on completion.
func (sl *StageLogger) WithField(key string, value interface{}) *StageLogger {
	sl.fields[key] = value
	return sl
}

// Done logs successful completion with elapsed time and accumulated fields.
func (sl *StageLogger) Done(message string) {
	fields := Fields{
		"stage":    sl.stage,
		"duration": time.Since(sl.startTime).String(),
	}
	for k, v := range sl.fields {
		fields[k] = v
	}
	sl.logger.WithFields(fields).Info(message)
}

// Failed logs stage failure with elapsed time.
func (sl *StageLogger) Failed(err error, message string) {
	fields := Fields{
		"stage":    sl.stage,
		"duration": time.Since(sl.startTime).String(),
	}
	for k, v := range sl.fields {
		fields[k] = v
	}
	sl.logger.WithError(err).WithFields(fields).Error(message)
}
