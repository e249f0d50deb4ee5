// Package notify delivers verification and password-reset emails as a
// best-effort side channel. Messages are handed off to a background worker
// after the triggering mutation has been persisted; delivery failures are
// logged and never surfaced to the caller.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/avolkau/wayfinder-auth/internal/logging"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender performs the actual delivery of a single message.
type Sender interface {
	Send(msg Message) error
}

// Dispatcher queues notification emails for background delivery. Enqueueing
// never blocks: when the queue is full the message is dropped with a warning.
type Dispatcher struct {
	sender  Sender
	logger  logging.Logger
	baseURL string

	ch        chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
}

const queueSize = 256

// NewDispatcher constructs a Dispatcher and starts its delivery worker.
// baseURL is the public address of the frontend, used to build links.
func NewDispatcher(sender Sender, baseURL string, logger logging.Logger) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  logger.With("module", "notify"),
		baseURL: baseURL,
		ch:      make(chan Message, queueSize),
	}

	d.wg.Add(1)
	go d.worker()

	return d
}

// SendVerificationEmail queues an email-verification message.
func (d *Dispatcher) SendVerificationEmail(email, token string) {
	d.enqueue(Message{
		To:      email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Welcome to Wayfinder!\n\nPlease confirm your email address by opening the link below:\n\n%s/verify-email?token=%s\n",
			d.baseURL, token),
	})
}

// SendPasswordResetEmail queues a password-reset message.
func (d *Dispatcher) SendPasswordResetEmail(email, token string) {
	d.enqueue(Message{
		To:      email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("A password reset was requested for your Wayfinder account.\n\nOpen the link below to choose a new password. The link is valid for one hour.\n\n%s/reset-password?token=%s\n\nIf you did not request this, you can ignore this email.\n",
			d.baseURL, token),
	})
}

// Close stops the worker after draining queued messages.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.ch)
	})
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(msg Message) {
	select {
	case d.ch <- msg:
	default:
		d.logger.Warn(context.Background(), "notification queue full, dropping message", "to", msg.To, "subject", msg.Subject)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.ch {
		if err := d.sender.Send(msg); err != nil {
			d.logger.Error(context.Background(), "notification delivery failed", "to", msg.To, "subject", msg.Subject, "error", err.Error())
			continue
		}
		d.logger.Debug(context.Background(), "notification delivered", "to", msg.To, "subject", msg.Subject)
	}
}
