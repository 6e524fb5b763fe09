package gateway

import (
	"context"
	"sync"

	"masterclass/entity"
)

type MailerMock struct {
	mock sync.Mutex

	Sent []entity.EmailMessage
}

func (c *MailerMock) SendEmail(ctx context.Context, msg entity.EmailMessage) error {
	c.mock.Lock()
	defer c.mock.Unlock()

	c.Sent = append(c.Sent, msg)

	return nil
}

func (c *MailerMock) SentTo(email string) []entity.EmailMessage {
	c.mock.Lock()
	defer c.mock.Unlock()

	var out []entity.EmailMessage
	for _, m := range c.Sent {
		if m.To == email {
			out = append(out, m)
		}
	}
	return out
}
