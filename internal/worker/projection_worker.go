package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/messaging"
	"github.com/spec-kit/user-service/internal/service"
)

// StartProjectionWorker registers the projection handlers and begins
// consuming identity events for each configured routing-key pattern. Each
// pattern gets its own queue; a degraded broker connection is logged and
// leaves the service serving HTTP without inbound projection.
func StartProjectionWorker(ctx context.Context, bus *messaging.Bus, projector *service.ProjectionService, patterns []string, logger *zap.Logger) {
	if bus == nil || projector == nil {
		return
	}

	projector.RegisterHandlers()
	for _, pattern := range patterns {
		if err := bus.StartListening(ctx, pattern, projector.HandleDelivery); err != nil {
			logger.Warn("unable to start identity event listener",
				zap.String("pattern", pattern),
				zap.Error(err))
		}
	}
}
