package eventhub

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/v2"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSink("eventhub", buildSink)
}

func buildSink(_ context.Context, env *feed.Env) (feed.Sink, error) {
	cfg := env.Feeder.EventHub
	if cfg.Namespace == "" || cfg.Name == "" {
		return nil, fmt.Errorf("eventhub.namespace and eventhub.name are required for the eventhub sink")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azeventhubs.NewProducerClient(cfg.Namespace, cfg.Name, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Event Hub producer client: %w", err)
	}

	env.Log.Info("connected to Event Hub", "namespace", cfg.Namespace, "eventHub", cfg.Name)
	return New(client, env.Log.WithName("eventhub")), nil
}
