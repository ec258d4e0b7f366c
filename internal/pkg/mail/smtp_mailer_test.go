package mail

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

type sent struct {
	to  []string
	msg string
}

func newTestMailer(t *testing.T, lookup EmailLookup) (*Mailer, *[]sent) {
	t.Helper()
	m := NewMailer(&config.Config{SMTPHost: "smtp.test", SMTPPort: "25", SMTPFrom: "billing@pharmalink.dz", OperatorEmail: "ops@pharmalink.dz"}, lookup)
	require.NotNil(t, m)
	var out []sent
	m.send = func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		out = append(out, sent{to: to, msg: string(msg)})
		return nil
	}
	return m, &out
}

func TestNewMailerDisabledWithoutHost(t *testing.T) {
	assert.Nil(t, NewMailer(&config.Config{}, nil))
}

func TestNotifyResolvesAccountEmail(t *testing.T) {
	m, out := newTestMailer(t, func(_ context.Context, id uint) (string, error) {
		assert.Equal(t, uint(7), id)
		return "amina@example.dz", nil
	})

	err := m.Notify(context.Background(), notify.Message{Kind: notify.KindEntitlementGranted, AccountID: 7, Subject: "Premium\r\nBcc: x", Body: "<b>ok</b>"})
	require.NoError(t, err)
	require.Len(t, *out, 1)
	assert.Equal(t, []string{"amina@example.dz"}, (*out)[0].to)
	assert.Contains(t, (*out)[0].msg, "Subject: Premium  Bcc: x\r\n")
	assert.Contains(t, (*out)[0].msg, "&lt;b&gt;ok&lt;/b&gt;")
}

func TestNotifyOperatorAlert(t *testing.T) {
	m, out := newTestMailer(t, nil)

	require.NoError(t, m.Notify(context.Background(), notify.Message{Kind: notify.KindOperatorAlert, AccountID: 3, Subject: "Audit entry lost"}))
	require.Len(t, *out, 1)
	assert.Equal(t, []string{"ops@pharmalink.dz"}, (*out)[0].to)
}

func TestNotifySkipsUnknownRecipient(t *testing.T) {
	m, out := newTestMailer(t, nil)
	require.NoError(t, m.Notify(context.Background(), notify.Message{Kind: notify.KindCheckoutConfirmed}))
	assert.Empty(t, *out)
}

func TestNotifyLookupFailure(t *testing.T) {
	m, _ := newTestMailer(t, func(context.Context, uint) (string, error) { return "", errors.New("db down") })
	err := m.Notify(context.Background(), notify.Message{Kind: notify.KindEntitlementRevoked, AccountID: 1})
	assert.ErrorContains(t, err, "db down")
}
