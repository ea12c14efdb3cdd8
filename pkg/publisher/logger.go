package publisher

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapAdapter routes watermill logs into zap
type ZapAdapter struct {
	logger *zap.Logger
}

var _ watermill.LoggerAdapter = (*ZapAdapter)(nil)

func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: logger}
}

func fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *ZapAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.logger.Error(msg, append(fields(f), zap.Error(err))...)
}

func (a *ZapAdapter) Info(msg string, f watermill.LogFields) {
	a.logger.Info(msg, fields(f)...)
}

func (a *ZapAdapter) Debug(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

// Trace maps to zap's debug level
func (a *ZapAdapter) Trace(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

func (a *ZapAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return &ZapAdapter{logger: a.logger.With(fields(f)...)}
}
