package duo

import (
	"context"

	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSource("duo", buildSource)
}

func buildSource(_ context.Context, env *feed.Env, subAPI string) (feed.Source, error) {
	creds, err := config.ReadDuoCreds(env.Feeder.APICredsFilepath)
	if err != nil {
		return nil, err
	}
	client := &Client{
		IntegrationKey: creds.IntegrationKey,
		SecretKey:      creds.SecretKey,
		Host:           creds.APIHostname,
	}
	return NewSource(client, subAPI, env.Log.WithName("duo"))
}
