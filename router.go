package wsrelay

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/olahol/wsrelay/frame"
)

// idPrefix opens the plain-text naming payload, e.g. "[ID]alice".
const idPrefix = "[ID]"

// Router decides who receives a routed payload and under what name.
//
// Names are always read from the registry at routing time, so a rename takes
// effect for the very message that carries it.
type Router struct {
	registry *Registry
	mode     Mode
	logger   *slog.Logger
}

func NewRouter(registry *Registry, mode Mode, logger *slog.Logger) *Router {
	if logger == nil {
		logger = discardLogger()
	}
	return &Router{
		registry: registry,
		mode:     mode,
		logger:   logger,
	}
}

// Route handles one payload received from the session senderID. Write
// failures to single recipients are logged and skipped; they never abort the
// fan-out nor remove the recipient.
func (r *Router) Route(senderID int, payload []byte) error {
	sender, ok := r.registry.Get(senderID)
	if !ok {
		return fmt.Errorf("%w: session %d is not registered", ErrTransportClosed, senderID)
	}
	defer func() { sender.routed++ }()

	if r.mode == ModeText {
		return r.routeText(sender, payload)
	}
	return r.routeEnvelope(sender, payload)
}

func (r *Router) routeEnvelope(sender *Session, payload []byte) error {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return err
	}

	flags := env.Message.Info
	if flags.Has(ChangeUsername) {
		r.registry.SetUsername(sender.ID, env.User.Name)
		r.logger.Info("username changed", "session", sender.ID, "username", env.User.Name)
	}
	if flags.Has(NoBroadcast) {
		return nil
	}

	current, _ := r.registry.Get(sender.ID)
	env.User.Name = current.Username
	env.Message.Info = 0

	out, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return r.fanOut(sender.ID, out, flags.Has(SendBack))
}

func (r *Router) routeText(sender *Session, payload []byte) error {
	text := string(payload)
	if sender.routed == 0 && strings.HasPrefix(text, idPrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(text, idPrefix))
		if name != "" {
			r.registry.SetUsername(sender.ID, name)
			r.logger.Info("username changed", "session", sender.ID, "username", name)
		}
		return nil
	}

	current, _ := r.registry.Get(sender.ID)
	return r.fanOut(sender.ID, []byte(current.Username+": "+text), false)
}

func (r *Router) fanOut(senderID int, payload []byte, includeSender bool) error {
	if len(payload) > frame.MaxPayload {
		return fmt.Errorf("%w: routed payload is %d bytes", ErrPayloadTooLarge, len(payload))
	}

	delivered := 0
	for _, s := range r.registry.Sessions() {
		if s.ID == senderID && !includeSender {
			continue
		}
		if err := s.write(payload); err != nil {
			r.logger.Warn("skipping recipient",
				"session", s.ID,
				"error", fmt.Errorf("%w: %v", ErrDeliveryFailure, err))
			continue
		}
		delivered++
	}

	r.logger.Debug("routed", "from", senderID, "recipients", delivered)
	return nil
}
