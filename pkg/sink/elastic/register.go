package elastic

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSink("elasticsearch", buildSink)
}

func buildSink(_ context.Context, env *feed.Env) (feed.Sink, error) {
	es := env.Feeder.Elasticsearch
	if len(es.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch.addresses is required for the elasticsearch sink")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: es.Addresses,
		Username:  es.Username,
		Password:  es.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Elasticsearch client: %w", err)
	}

	return New(client, env.Identity.Feeder, es.IndexLayout, es.ChunkSize, env.Log.WithName("elasticsearch")), nil
}
