package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/quillpress/apiserver/internal/mq"
	"github.com/quillpress/apiserver/types"
	"go.uber.org/zap"
)

const (
	welcomeSubject = "Welcome to Our Website"
	kindAttribute  = "kind"
	kindWelcome    = "welcome"
)

// WelcomeMail is the message published on the mail channel.
type WelcomeMail struct {
	RequestID string `json:"request_id"`
	To        string `json:"to"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
}

// Publisher is the subset of mq.MQ used for sending.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Sender delivers a single mail.
type Sender interface {
	Send(ctx context.Context, mail WelcomeMail) error
}

// MQNotifier publishes welcome mails to a broker channel.
type MQNotifier struct {
	publisher Publisher
	channel   string
	from      string
}

func NewMQNotifier(publisher Publisher, channel, from string) *MQNotifier {
	return &MQNotifier{
		publisher: publisher,
		channel:   channel,
		from:      from,
	}
}

// Welcome publishes the welcome mail for user.
func (n *MQNotifier) Welcome(ctx context.Context, user types.User) error {
	data, err := json.Marshal(NewWelcomeMail(user, n.from))
	if err != nil {
		return err
	}
	attrs := map[string]string{
		kindAttribute: kindWelcome,
		"user_id":     strconv.Itoa(user.ID),
	}
	if _, err := n.publisher.Publish(ctx, n.channel, data, attrs); err != nil {
		return fmt.Errorf("publish welcome mail: %w", err)
	}
	return nil
}

// NewWelcomeMail builds the welcome message for user.
func NewWelcomeMail(user types.User, from string) WelcomeMail {
	return WelcomeMail{
		RequestID: "User Creation",
		To:        user.Email,
		From:      from,
		Subject:   welcomeSubject,
		Text:      fmt.Sprintf("Dear %s, welcome to our website!", user.Name),
	}
}

// Handler returns an mq.Handler that delivers welcome mails through sender.
// Undecodable and undeliverable messages are dropped; other delivery errors
// are returned so the broker redelivers.
func Handler(sender Sender, log *zap.Logger) mq.Handler {
	return func(ctx context.Context, msg mq.Message) error {
		var mail WelcomeMail
		if err := json.Unmarshal(msg.Data, &mail); err != nil {
			log.Warn("dropping malformed mail message", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		if strings.TrimSpace(mail.To) == "" {
			log.Warn("dropping mail message without recipient", zap.String("message_id", msg.ID))
			return nil
		}
		if err := sender.Send(ctx, mail); err != nil {
			if errors.Is(err, ErrUndeliverable) || errors.Is(err, ErrNoRecipient) {
				log.Warn("dropping undeliverable mail", zap.String("message_id", msg.ID), zap.Error(err))
				return nil
			}
			log.Error("mail delivery failed", zap.String("message_id", msg.ID), zap.Error(err))
			return err
		}
		log.Info("mail delivered", zap.String("message_id", msg.ID), zap.String("kind", msg.Attributes[kindAttribute]))
		return nil
	}
}

var (
	// ErrNoRecipient is returned by senders asked to deliver without a recipient.
	ErrNoRecipient = errors.New("mail has no recipient")
	// ErrUndeliverable marks failures that a retry cannot fix, such as a
	// permanent rejection by the relay.
	ErrUndeliverable = errors.New("mail undeliverable")
)
