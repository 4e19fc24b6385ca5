package onelogin

import (
	"context"

	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSource("onelogin", buildSource)
}

func buildSource(_ context.Context, env *feed.Env, _ string) (feed.Source, error) {
	creds, err := config.ReadOneLoginCreds(env.Feeder.APICredsFilepath)
	if err != nil {
		return nil, err
	}
	host := creds.APIHost
	if host == "" {
		host = "api.onelogin.com"
	}
	client := &Client{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Host:         host,
	}
	return NewSource(client, env.Log.WithName("onelogin")), nil
}
