package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	c := &Client{projectID: "proj-1"}

	cases := []struct {
		kind resourceKind
		in   string
		want string
	}{
		{kindTopic, "fulfillment-notification-events", "projects/proj-1/topics/fulfillment-notification-events"},
		{kindTopic, "projects/other/topics/t", "projects/other/topics/t"},
		{kindSubscription, " notif-sub ", "projects/proj-1/subscriptions/notif-sub"},
		{kindSubscription, "projects/other/topics/t", "projects/proj-1/subscriptions/projects/other/topics/t"},
		{kindSubscription, "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.resourceName(tc.kind, tc.in), "%s %q", tc.kind, tc.in)
	}

	assert.Empty(t, (&Client{}).resourceName(kindTopic, "t"), "no project means no name")
}

func TestNilClientIsInert(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("x"))
	assert.Nil(t, c.Subscription("x"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
	assert.Error(t, c.EnsureTopics(context.Background(), "x"))
}

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	assert.Empty(t, subscriptionNames(config.PubSubConfig{NotificationSubscription: "  "}))
	assert.Equal(t, []string{"notif-sub"}, subscriptionNames(config.PubSubConfig{NotificationSubscription: "notif-sub"}))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: " "}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)
}
