package kafka_test

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/kafka"
	"github.com/stretchr/testify/assert"
)

func TestParseBrokers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a:9092", "b:9092"}, kafka.ParseBrokers(" a:9092, ,b:9092"))
	assert.Empty(t, kafka.ParseBrokers(""))
}

func TestCreateChannelWithBrokers_NoBrokers(t *testing.T) {
	t.Parallel()

	_, _, err := kafka.CreateChannelWithBrokers(watermill.NopLogger{}, "autoflow", nil)
	assert.ErrorIs(t, err, kafka.ErrNoBrokers)
}
