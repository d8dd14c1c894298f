package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/faithconnect/member-service/shared/redis"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStreamClient keeps streams in memory. Reads never block; once the
// scripted entries are drained it returns readErr.
type fakeStreamClient struct {
	mu       sync.Mutex
	streams  map[string][]redis.StreamMessage
	seq      int
	readErr  error
	lastErr  error
	readFrom []string
}

func newFakeStreamClient() *fakeStreamClient {
	return &fakeStreamClient{streams: map[string][]redis.StreamMessage{}}
}

func (f *fakeStreamClient) PublishEvent(ctx context.Context, streamName string, data map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	f.streams[streamName] = append(f.streams[streamName], redis.StreamMessage{ID: id, Values: data})
	return id, nil
}

func (f *fakeStreamClient) ReadStream(ctx context.Context, streamName, lastID string, count int64, block time.Duration) ([]redis.StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readFrom = append(f.readFrom, lastID)

	var out []redis.StreamMessage
	after := lastID == "0"
	for _, msg := range f.streams[streamName] {
		if after {
			out = append(out, msg)
			if int64(len(out)) == count {
				break
			}
			continue
		}
		after = msg.ID == lastID
	}
	if len(out) == 0 {
		return nil, f.readErr
	}
	return out, nil
}

func (f *fakeStreamClient) LastStreamID(ctx context.Context, streamName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr != nil {
		return "", f.lastErr
	}
	msgs := f.streams[streamName]
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[len(msgs)-1].ID, nil
}

func changeEvent(memberID string, action models.ChangeAction) *models.MemberChangedEvent {
	return &models.MemberChangedEvent{
		ChurchID:   testChurch,
		MemberID:   memberID,
		Action:     action,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestChangeStream_PublishWritesChurchStream(t *testing.T) {
	client := newFakeStreamClient()
	cs := NewChangeStream(client)

	event := changeEvent("A", models.ChangeActionCreated)
	event.PartnerIDs = []string{"B"}
	require.NoError(t, cs.PublishMemberChanged(context.Background(), event))

	msgs := client.streams["faithconnect:members:"+testChurch]
	require.Len(t, msgs, 1)
	assert.Equal(t, "created", msgs[0].Values["action"])
	assert.Equal(t, "A", msgs[0].Values["memberId"])

	var decoded models.MemberChangedEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["event"].(string)), &decoded))
	assert.Equal(t, *event, decoded)
}

func TestChangeStream_SubscribeDeliversInOrder(t *testing.T) {
	client := newFakeStreamClient()
	client.readErr = fmt.Errorf("NOPERM this user has no permissions to access the stream")
	cs := NewChangeStream(client)
	ctx := context.Background()

	require.NoError(t, cs.PublishMemberChanged(ctx, changeEvent("A", models.ChangeActionCreated)))
	require.NoError(t, cs.PublishMemberChanged(ctx, changeEvent("B", models.ChangeActionUpdated)))
	// another church's stream is never read
	other := changeEvent("X", models.ChangeActionDeleted)
	other.ChurchID = "church-2"
	require.NoError(t, cs.PublishMemberChanged(ctx, other))

	var got []string
	err := cs.Subscribe(ctx, testChurch, "0", func(id string, event *models.MemberChangedEvent) error {
		got = append(got, id+":"+event.MemberID+":"+string(event.Action))
		return nil
	})
	require.NoError(t, err, "permission errors end the subscription quietly")
	assert.Equal(t, []string{"1-0:A:created", "2-0:B:updated"}, got)
	assert.Equal(t, []string{"0", "2-0"}, client.readFrom)
}

func TestChangeStream_SubscribeStartsAfterNewestEntry(t *testing.T) {
	client := newFakeStreamClient()
	client.readErr = context.Canceled
	cs := NewChangeStream(client)
	ctx := context.Background()

	require.NoError(t, cs.PublishMemberChanged(ctx, changeEvent("OLD", models.ChangeActionCreated)))

	delivered := 0
	err := cs.Subscribe(ctx, testChurch, "", func(string, *models.MemberChangedEvent) error {
		delivered++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, []string{"1-0"}, client.readFrom)
}

func TestChangeStream_SubscribeSkipsMalformedEntries(t *testing.T) {
	client := newFakeStreamClient()
	client.readErr = context.Canceled
	cs := NewChangeStream(client)
	ctx := context.Background()
	stream := redis.MemberStreamName(testChurch)

	_, _ = client.PublishEvent(ctx, stream, map[string]interface{}{"action": "created"})
	_, _ = client.PublishEvent(ctx, stream, map[string]interface{}{"event": "{not json"})
	require.NoError(t, cs.PublishMemberChanged(ctx, changeEvent("GOOD", models.ChangeActionDeleted)))

	var got []string
	err := cs.Subscribe(ctx, testChurch, "0", func(_ string, event *models.MemberChangedEvent) error {
		got = append(got, event.MemberID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"GOOD"}, got)
}

func TestChangeStream_SubscribeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("callback error stops the subscription", func(t *testing.T) {
		client := newFakeStreamClient()
		cs := NewChangeStream(client)
		require.NoError(t, cs.PublishMemberChanged(ctx, changeEvent("A", models.ChangeActionCreated)))

		stop := errors.New("client went away")
		err := cs.Subscribe(ctx, testChurch, "0", func(string, *models.MemberChangedEvent) error { return stop })
		assert.ErrorIs(t, err, stop)
	})

	t.Run("unexpected read error is returned", func(t *testing.T) {
		client := newFakeStreamClient()
		client.readErr = errors.New("connection reset by peer")
		err := NewChangeStream(client).Subscribe(ctx, testChurch, "0", func(string, *models.MemberChangedEvent) error { return nil })
		assert.EqualError(t, err, "connection reset by peer")
	})

	t.Run("cancelled context ends quietly", func(t *testing.T) {
		client := newFakeStreamClient()
		client.lastErr = errors.New("i/o timeout")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := NewChangeStream(client).Subscribe(cctx, testChurch, "", func(string, *models.MemberChangedEvent) error { return nil })
		assert.NoError(t, err)
	})
}

func TestChangeStream_ServiceWritesReachSubscribers(t *testing.T) {
	client := newFakeStreamClient()
	client.readErr = context.Canceled
	cs := NewChangeStream(client)
	svc, _, _ := newMemoryService(t)
	svc.publisher = cs

	addMember(t, svc, "A")
	addMember(t, svc, "B", rel("A", "Spouse"))

	var got []*models.MemberChangedEvent
	require.NoError(t, cs.Subscribe(context.Background(), testChurch, "0", func(_ string, event *models.MemberChangedEvent) error {
		got = append(got, event)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1].MemberID)
	assert.Equal(t, []string{"A"}, got[1].PartnerIDs)
	assert.Equal(t, "staff-1", got[1].ActorID)
}
