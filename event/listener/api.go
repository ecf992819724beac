package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gig-messenger/event"
	"gig-messenger/messenger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ApiQueue                  = "api"
	ActionConversationMessage = "conversation_message"
)

// messageNamespace keys the client message ids derived from AMQP message ids.
var messageNamespace = uuid.MustParse("6f1c2a8e-4b7d-4c0e-9a52-3d8e1f7b90c4")

// ErrUnkeyedMessage rejects a conversation_message that carries neither a
// clientMessageId nor an AMQP message id, since it could not be deduplicated on replay.
var ErrUnkeyedMessage = errors.New("conversation_message needs a clientMessageId or a message id")

// Sender is the part of the message pipeline the api listener drives.
type Sender interface {
	Send(ctx context.Context, userID string, in messenger.SendInput) (messenger.SendResult, error)
}

// ConversationMessage lets an upstream workflow, such as a job application, open or
// continue a conversation on behalf of a user.
type ConversationMessage struct {
	UserID string `json:"userId"`
	messenger.SendInput
}

type Api struct {
	sender Sender
	log    zerolog.Logger
}

func NewApi(sender Sender, log zerolog.Logger) *Api {
	return &Api{sender: sender, log: log}
}

// Run handles events until the channel is closed or ctx is done.
func (a *Api) Run(ctx context.Context, events <-chan event.EventChannelData) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := a.Handle(ctx, ev); err != nil {
				a.log.Warn().
					Err(err).
					Str("action", ev.Action).
					Msg("api event rejected")
			}
		}
	}
}

func (a *Api) Handle(ctx context.Context, ev event.EventChannelData) error {
	switch ev.Action {
	case ActionConversationMessage:
		var in ConversationMessage
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Action, err)
		}
		if in.ClientMessageID == "" {
			if ev.ID == "" {
				return ErrUnkeyedMessage
			}
			in.ClientMessageID = clientMessageID(ev)
		}
		result, err := a.sender.Send(ctx, in.UserID, in.SendInput)
		if err != nil {
			return err
		}
		a.log.Info().
			Uint("conversation", result.ConversationID).
			Uint("message", result.Message.ID).
			Bool("duplicate", result.Duplicate).
			Msg("conversation message sent")
		return nil
	}

	a.log.Debug().Str("action", ev.Action).Msg("ignoring unknown action")
	return nil
}

// clientMessageID derives a stable id from the delivery, so redelivered and replayed
// events land on the idempotent send path.
func clientMessageID(ev event.EventChannelData) string {
	return uuid.NewSHA1(messageNamespace, []byte(ev.Queue+"/"+ev.ID)).String()
}
