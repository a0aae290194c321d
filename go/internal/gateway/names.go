package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/progress"
	"github.com/mcdev12/escaperoom/go/internal/submission"
)

// NameChecker looks up name availability
type NameChecker interface {
	CheckName(ctx context.Context, name string) submission.NameCheck
}

// NamesConfig holds the check-as-you-type settings
type NamesConfig struct {
	Debounce     time.Duration
	MinLength    int
	CheckTimeout time.Duration
}

// NamesHandler answers name availability as the player types. Each
// connection debounces its own input.
type NamesHandler struct {
	cm      *ConnectionManager
	checker NameChecker
	clock   clockwork.Clock
	config  NamesConfig
}

// NewNamesHandler creates a names handler
func NewNamesHandler(cm *ConnectionManager, checker NameChecker, clock clockwork.Clock, config NamesConfig) *NamesHandler {
	return &NamesHandler{
		cm:      cm,
		checker: checker,
		clock:   clock,
		config:  config,
	}
}

// HandleConnection handles GET /ws/names
func (h *NamesHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := progress.SessionIDFromContext(r.Context())

	var debouncer *submission.Debouncer
	_, err := h.cm.Upgrade(w, r, TopicNames, sessionID, ConnectionHandlers{
		OnOpen: func(c *Connection) {
			debouncer = submission.NewDebouncer(h.clock, h.config.Debounce, h.config.MinLength, func(name string) {
				h.check(c, name)
			})
		},
		OnMessage: func(c *Connection, data []byte) {
			var in NameInput
			if err := json.Unmarshal(data, &in); err != nil {
				if err := c.Send(Message{Type: MessageError, Data: "invalid message", Timestamp: h.clock.Now().UTC()}); err != nil {
					log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send error")
				}
				return
			}
			debouncer.Trigger(in.Name)
		},
		OnClose: func(c *Connection) {
			debouncer.Stop()
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade names connection")
	}
}

func (h *NamesHandler) check(c *Connection, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.CheckTimeout)
	defer cancel()

	result := h.checker.CheckName(ctx, name)
	if err := c.Send(Message{Type: MessageNameCheck, Data: result, Timestamp: h.clock.Now().UTC()}); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send name check")
	}
}
