package bus

import (
	"context"

	"github.com/enamentis/modulo/internal/logging"
	"github.com/enamentis/modulo/internal/metrics"
)

// Handler processes an inbound envelope. handled=false means "no opinion,
// try the next registered handler" (the Go analogue of the source
// returning None); for a dispatch envelope, the first handler that
// returns handled=true contributes its payload as the response, which the
// receiving ServiceManager publishes whether or not the sender waits for it.
type Handler func(ctx context.Context, envelope Envelope) (payload any, handled bool, err error)

type registration struct {
	msgType  Type
	channels map[string]struct{}
	handler  Handler
}

// Router dispatches inbound envelopes to handlers registered by type and
// optional channel filter, in registration order (spec §4.4.2).
type Router struct {
	registrations []registration
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register adds handler for msgType, optionally restricted to channels.
// An empty channels list matches every channel.
func (r *Router) Register(msgType Type, channels []string, handler Handler) {
	set := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		set[c] = struct{}{}
	}
	r.registrations = append(r.registrations, registration{msgType: msgType, channels: set, handler: handler})
}

// Dispatch routes envelope to every matching handler in registration
// order, stopping at the first that reports handled=true. Handler errors
// are logged and swallowed; they never stop the router from trying the
// next handler or propagate to the caller (spec §4.4.2).
func (r *Router) Dispatch(ctx context.Context, envelope Envelope) (any, bool) {
	for _, reg := range r.registrations {
		if reg.msgType != envelope.Type {
			continue
		}
		if len(reg.channels) > 0 {
			if _, ok := reg.channels[envelope.Channel]; !ok {
				continue
			}
		}

		payload, handled, err := safeInvoke(reg.handler, ctx, envelope)
		if err != nil {
			metrics.BusHandlerErrors.WithLabelValues(envelope.Channel).Inc()
			logging.WithComponent("bus").Warn().Err(err).
				Str("type", string(envelope.Type)).
				Str("channel", envelope.Channel).
				Msg("handler returned an error; continuing")
			continue
		}
		if handled {
			return payload, true
		}
	}
	return nil, false
}

// safeInvoke recovers a panicking handler the same way the source's
// swallow-and-log contract treats a raised exception.
func safeInvoke(h Handler, ctx context.Context, envelope Envelope) (payload any, handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Cause: r}
		}
	}()
	return h(ctx, envelope)
}
