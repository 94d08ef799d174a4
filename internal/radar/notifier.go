package radar

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/storage"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

// Notifier listens for cell notices and re-runs matching for the sessions
// whose last bucket lies in the cell another user just moved into.
type Notifier struct {
	redis     storage.RedisClient
	registry  *Registry
	cellChars uint
	logger    logger.Logger
}

func NewNotifier(client storage.RedisClient, registry *Registry, cellChars uint, log logger.Logger) *Notifier {
	return &Notifier{
		redis:     client,
		registry:  registry,
		cellChars: cellChars,
		logger:    log,
	}
}

// Run blocks until ctx is done or the subscription breaks.
func (n *Notifier) Run(ctx context.Context) error {
	sub := n.redis.PSubscribe(ctx, storage.CellChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	n.logger.Info("Cell notifier started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Cell notifier stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("cell subscription closed")
			}
			n.dispatch(msg.Channel, msg.Payload)
		}
	}
}

// dispatch returns the number of sessions refreshed.
func (n *Notifier) dispatch(channel, payload string) int {
	cell := strings.TrimPrefix(channel, storage.CellChannelPrefix)

	var notice storage.CellNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		n.logger.Warn("Ignoring malformed cell notice", "channel", channel, "error", err)
		return 0
	}

	refreshed := 0
	n.registry.Each(func(sessionID string, o *Orchestrator) {
		if o.UserID() == notice.UserID {
			return
		}
		b, ok := o.LastBucket()
		if !ok || geo.Cell(b, n.cellChars) != cell {
			return
		}
		if err := o.RefreshCached(); err != nil {
			if !errors.Is(err, apperrors.ErrClosed) {
				n.logger.Warn("Cached refresh failed", "session_id", sessionID, "error", err)
			}
			return
		}
		refreshed++
	})
	return refreshed
}
