package zap

import (
	"github.com/unkn0wn-root/listingsync/logger"
	"go.uber.org/zap"
)

var _ logger.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

func (z ZapLogger) Debug(msg string, f logger.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f logger.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f logger.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f logger.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f logger.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
