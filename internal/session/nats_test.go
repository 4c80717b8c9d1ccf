package session

import (
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSBridge_HandleMsg(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		initial  *User
		data     string
		wantUser string // "" means logged out
	}{
		{name: "login", data: `{"event":"login","user":{"id":"u1","email":"a@b.c","token":"tok"}}`, wantUser: "u1"},
		{name: "logout", initial: &User{ID: "u1"}, data: `{"event":"logout"}`},
		{name: "malformed keeps state", initial: &User{ID: "u1"}, data: `{"event":`, wantUser: "u1"},
		{name: "login without user ignored", data: `{"event":"login"}`},
		{name: "unknown event ignored", initial: &User{ID: "u9"}, data: `{"event":"refresh"}`, wantUser: "u9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := NewSignal(tt.initial)
			bridge := NewNATSBridge(sig, logger)

			bridge.HandleMsg(&nats.Msg{Subject: DefaultSubject, Data: []byte(tt.data)})

			if tt.wantUser == "" {
				assert.Nil(t, sig.Current())
				return
			}
			require.NotNil(t, sig.Current())
			assert.Equal(t, tt.wantUser, sig.Current().ID)
		})
	}
}

func TestNATSBridge_CloseWithoutSubscription(t *testing.T) {
	bridge := NewNATSBridge(NewSignal(nil), nil)
	assert.NoError(t, bridge.Close())
}
