package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	userID := uuid.New()
	e := New(LoginSucceeded, userID, map[string]string{"method": "authenticator"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, LoginSucceeded, e.Type)
	assert.Equal(t, userID.String(), e.UserID)
	assert.False(t, e.OccurredAt.IsZero())

	anonymous := New(LoginFailed, uuid.Nil, nil)
	assert.Empty(t, anonymous.UserID)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewAsyncProducer(t, cfg)

	userID := uuid.New()
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Type != BackupCodeConsumed || got.UserID != userID.String() {
			return fmt.Errorf("unexpected event %+v", got)
		}
		return nil
	})

	publisher := NewKafkaPublisherWithProducer(producer, "portal.")
	assert.Equal(t, "portal.auth.backup_code.consumed", publisher.TopicName(BackupCodeConsumed))

	publisher.Publish(context.Background(), New(BackupCodeConsumed, userID, nil))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_ProducerErrorsAreNotFatal(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisherWithProducer(producer, "")
	assert.Equal(t, "auth.session.expired", publisher.TopicName(SessionExpired))

	publisher.Publish(context.Background(), New(SessionExpired, uuid.New(), nil))
	_ = publisher.Close()
}

func TestMemoryPublisher(t *testing.T) {
	m := &MemoryPublisher{}
	m.Publish(context.Background(), New(LoginFailed, uuid.Nil, nil))
	m.Publish(context.Background(), New(LoginSucceeded, uuid.New(), nil))

	assert.Equal(t, []Type{LoginFailed, LoginSucceeded}, m.Types())
	assert.Len(t, m.Events(), 2)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{})
	assert.Error(t, err)
}
