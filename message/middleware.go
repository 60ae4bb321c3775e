package message

import (
	"time"

	"guestlist/metrics"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
)

func useMiddlewares(router *message.Router, logger watermill.LoggerAdapter) {
	router.AddMiddleware(
		messageContext,
		logHandling,
		middleware.Retry{
			MaxRetries:      10,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
			Logger:          logger,
		}.Middleware,
	)
}

// messageContext puts the correlation id and a message-scoped logger into
// the message context. Messages published without one get a generated id.
func messageContext(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		correlationID := middleware.MessageCorrelationID(msg)
		if correlationID == "" {
			correlationID = "msg_" + shortuuid.New()
		}

		ctx := log.ContextWithCorrelationID(msg.Context(), correlationID)
		ctx = log.ToContext(ctx, logrus.WithFields(logrus.Fields{
			"message_uuid":   msg.UUID,
			"correlation_id": correlationID,
		}))
		msg.SetContext(ctx)

		return next(msg)
	}
}

func logHandling(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		handler := message.HandlerNameFromCtx(msg.Context())
		logger := log.FromContext(msg.Context()).WithFields(logrus.Fields{
			"handler": handler,
			"topic":   message.SubscribeTopicFromCtx(msg.Context()),
		})

		start := time.Now()
		produced, err := next(msg)
		elapsed := time.Since(start)
		metrics.TrackMessage(handler, err, elapsed)

		logger = logger.WithField("duration", elapsed)
		if err != nil {
			logger.WithError(err).Error("Message handling failed")
			return produced, err
		}
		logger.Debug("Message handled")

		return produced, nil
	}
}
