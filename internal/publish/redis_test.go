package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func TestRedisSinkPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	s := NewRedisSink(pub, "usbwatch:events", "host-a")

	ev := model.ChangeEvent{
		ID:         uuid.New(),
		Identity:   model.DeviceIdentity{Kind: model.IdentityPort, Bus: 2, Address: 0},
		Descriptor: model.DeviceDescriptor{Bus: 2, VendorID: 0x1022, ProductID: 0x15ba},
		Kind:       model.Connected,
		Timestamp:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.OnEvent(context.Background(), ev))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "usbwatch:events", pub.sent[0].channel)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &msg))
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, "host-a", msg["host"])
	event := msg["event"].(map[string]any)
	assert.Equal(t, "connected", event["kind"])
	assert.Equal(t, "port:002-000", event["identity"])
	assert.Equal(t, "1022", event["descriptor"].(map[string]any)["vendor_id"])
}

func TestRedisSinkPublishesDiagnostics(t *testing.T) {
	pub := &fakePublisher{}
	s := NewRedisSink(pub, "ch", "")

	require.NoError(t, s.OnDiagnostic(context.Background(), model.Diagnostic{
		Level: model.DiagnosticWarning, Code: model.CodeEnumerationFailed, Message: "busy",
	}))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &msg))
	assert.Equal(t, "diagnostic", msg["type"])
	assert.NotContains(t, msg, "event")
	assert.NotContains(t, msg, "host")
	diag := msg["diagnostic"].(map[string]any)
	assert.Equal(t, "enumeration_failed", diag["code"])
	assert.Equal(t, "warning", diag["level"])
}

func TestRedisSinkPropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	s := NewRedisSink(&fakePublisher{err: boom}, "ch", "")

	err := s.OnEvent(context.Background(), model.ChangeEvent{Kind: model.Disconnected})
	assert.ErrorIs(t, err, boom)
}
