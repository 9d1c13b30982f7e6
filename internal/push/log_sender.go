package push

import (
	"context"

	"go.uber.org/zap"
)

// LogSender records invites in the log instead of delivering them.
// It backs deployments without a broker.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// SendMulticast logs the message and reports every token as delivered.
func (s *LogSender) SendMulticast(_ context.Context, tokens []string, message Message) (BatchResponse, error) {
	response := BatchResponse{Responses: make([]SendResult, 0, len(tokens))}
	for _, token := range tokens {
		response.Responses = append(response.Responses, SendResult{Token: token})
		response.SuccessCount++
	}
	s.logger.Info("push delivery skipped, no broker configured",
		zap.String("type", message.Data["type"]),
		zap.String("call_id", message.Data["callID"]),
		zap.Int("tokens", len(tokens)))
	return response, nil
}
